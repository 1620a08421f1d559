package zenwifi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DanrwAU/zenwifi/internal/core"
)

func TestCoordinatorSetupMergesStatus(t *testing.T) {
	source := newFakeSource(Device{ID: "1", Name: "Hall"}, Device{ID: "2"}, Device{ID: ""})
	source.setStatus("1", onlineStatus())
	source.statusErrs["2"] = fmt.Errorf("%w: timeout", ErrCommunication)

	c := setupCoordinator(t, source)

	snapshot := c.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 thermostats, got %d", len(snapshot))
	}
	if snapshot[0].ID() != "1" || snapshot[0].Status == nil {
		t.Fatalf("expected merged status for device 1: %+v", snapshot[0])
	}
	if snapshot[1].ID() != "2" || snapshot[1].Status != nil {
		t.Fatalf("expected base info only for device 2: %+v", snapshot[1])
	}
	if !c.LastUpdateSuccess() {
		t.Fatalf("a failed status call must not fail the update")
	}
	if got := c.Discovered(); len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("unexpected discovered ids: %v", got)
	}
	if status, _ := c.Health(); status != core.HealthHealthy {
		t.Fatalf("expected healthy, got %s", status)
	}
}

func TestCoordinatorSetupAuthFailure(t *testing.T) {
	source := newFakeSource()
	source.setDevicesErr(fmt.Errorf("%w: userinfo returned 401", ErrAuthentication))

	c := NewCoordinator(source, time.Minute, nil)
	err := c.Setup(context.Background())
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if !strings.Contains(err.Error(), "re-enter") {
		t.Fatalf("expected re-auth hint, got %v", err)
	}
	if !c.AuthFailed() {
		t.Fatalf("expected auth failure recorded")
	}
	if status, _ := c.Health(); status != core.HealthError {
		t.Fatalf("expected error health, got %s", status)
	}
}

func TestCoordinatorKeepsDataOnFailure(t *testing.T) {
	source := newFakeSource(Device{ID: "1"})
	source.setStatus("1", onlineStatus())
	c := setupCoordinator(t, source)

	source.setDevicesErr(fmt.Errorf("%w: connection reset", ErrCommunication))
	if err := c.Refresh(context.Background()); !errors.Is(err, ErrCommunication) {
		t.Fatalf("expected communication error, got %v", err)
	}
	if c.LastUpdateSuccess() || c.AuthFailed() {
		t.Fatalf("unexpected flags after failure")
	}
	if len(c.Snapshot()) != 1 {
		t.Fatalf("expected previous snapshot kept")
	}
	status, message := c.Health()
	if status != core.HealthDegraded || !strings.Contains(message, "connection reset") {
		t.Fatalf("unexpected health %s %q", status, message)
	}

	source.setDevicesErr(nil)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !c.LastUpdateSuccess() || c.LastError() != nil {
		t.Fatalf("expected recovery")
	}
}

func TestCoordinatorNewDeviceNotDiscovered(t *testing.T) {
	source := newFakeSource(Device{ID: "1"})
	source.setStatus("1", onlineStatus())
	c := setupCoordinator(t, source)

	source.mu.Lock()
	source.devices = append(source.devices, Device{ID: "2"})
	source.mu.Unlock()
	source.setStatus("2", onlineStatus())

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, ok := c.Thermostat("2"); !ok {
		t.Fatalf("expected new device in the cache")
	}
	if got := c.Discovered(); len(got) != 1 {
		t.Fatalf("discovered set must stay fixed, got %v", got)
	}
}

func TestCoordinatorSubscribe(t *testing.T) {
	source := newFakeSource(Device{ID: "1"})
	source.setStatus("1", onlineStatus())
	c := setupCoordinator(t, source)

	updates, unsubscribe := c.Subscribe()
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	select {
	case update := <-updates:
		if !update.Success || len(update.Thermostats) != 1 {
			t.Fatalf("unexpected update: %+v", update)
		}
	default:
		t.Fatalf("expected an update")
	}

	unsubscribe()
	unsubscribe()
	_ = c.Refresh(context.Background())
	if len(updates) != 0 {
		t.Fatalf("expected no update after unsubscribe")
	}
}

func TestCoordinatorRunRefreshesOnRequest(t *testing.T) {
	source := newFakeSource(Device{ID: "1"})
	source.setStatus("1", onlineStatus())
	c := setupCoordinator(t, source)
	updates, unsubscribe := c.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	c.RequestRefresh()
	select {
	case update := <-updates:
		if !update.Success {
			t.Fatalf("unexpected failed update: %v", update.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for requested refresh")
	}
	cancel()
	<-done
}

func TestRequestRefreshCoalesces(t *testing.T) {
	c := NewCoordinator(newFakeSource(), time.Minute, nil)
	c.RequestRefresh()
	c.RequestRefresh()
	if len(c.refreshCh) != 1 {
		t.Fatalf("expected one pending refresh, got %d", len(c.refreshCh))
	}
}
