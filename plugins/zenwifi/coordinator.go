package zenwifi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DanrwAU/zenwifi/internal/core"
	"go.uber.org/zap"
)

// DataSource is the read side of the API the coordinator polls.
type DataSource interface {
	Devices(ctx context.Context) ([]Device, error)
	DeviceStatus(ctx context.Context, id DeviceID) (Status, error)
}

// Update is delivered to subscribers after every refresh attempt.
type Update struct {
	Time        time.Time
	Success     bool
	Err         error
	Thermostats []Thermostat
}

// Coordinator polls the account on a fixed interval and caches the merged
// thermostat snapshot that every entity reads from.
type Coordinator struct {
	source   DataSource
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	// refreshMu keeps a single refresh in flight.
	refreshMu sync.Mutex
	refreshCh chan struct{}

	mu           sync.RWMutex
	data         map[DeviceID]Thermostat
	order        []DeviceID
	discovered   []DeviceID
	announced    map[DeviceID]bool
	lastSuccess  bool
	authFailed   bool
	lastErr      error
	lastUpdate   time.Time
	lastDuration time.Duration
	listeners    map[chan Update]struct{}
}

func NewCoordinator(source DataSource, interval time.Duration, logger *zap.Logger) *Coordinator {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		source:    source,
		interval:  interval,
		logger:    logger.Named("coordinator"),
		now:       time.Now,
		refreshCh: make(chan struct{}, 1),
		data:      make(map[DeviceID]Thermostat),
		announced: make(map[DeviceID]bool),
		listeners: make(map[chan Update]struct{}),
	}
}

// Setup performs the first refresh and fixes the discovered thermostat set.
// A failure here must abort startup.
func (c *Coordinator) Setup(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		if errors.Is(err, ErrAuthentication) {
			return fmt.Errorf("zenwifi credentials rejected, re-enter username and password: %w", err)
		}
		return fmt.Errorf("zenwifi first refresh: %w", err)
	}

	c.mu.Lock()
	c.discovered = append([]DeviceID(nil), c.order...)
	for _, id := range c.discovered {
		c.announced[id] = true
	}
	count := len(c.discovered)
	c.mu.Unlock()

	c.logger.Info("thermostats discovered", zap.Int("count", count))
	return nil
}

// Run refreshes on every tick and on RequestRefresh until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.refreshCh:
		}
		if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("refresh failed", zap.Error(err))
		}
	}
}

// RequestRefresh schedules an immediate refresh. Requests made while one is
// pending coalesce.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// Refresh fetches the device list and each device's status. A failed
// status call keeps the device with no status. A failed device list keeps
// the previous snapshot and marks the update unsuccessful.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	start := c.now()
	data, order, err := c.fetch(ctx)
	duration := c.now().Sub(start)

	c.mu.Lock()
	c.lastUpdate = start
	c.lastDuration = duration
	if err != nil {
		c.lastSuccess = false
		c.authFailed = errors.Is(err, ErrAuthentication)
		c.lastErr = err
	} else {
		c.data = data
		c.order = order
		c.lastSuccess = true
		c.authFailed = false
		c.lastErr = nil
		c.announceLocked()
	}
	update := Update{
		Time:        start,
		Success:     err == nil,
		Err:         err,
		Thermostats: c.snapshotLocked(),
	}
	listeners := make([]chan Update, 0, len(c.listeners))
	for ch := range c.listeners {
		listeners = append(listeners, ch)
	}
	c.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- update:
		default:
			c.logger.Debug("listener lagging, update dropped")
		}
	}
	return err
}

func (c *Coordinator) fetch(ctx context.Context) (map[DeviceID]Thermostat, []DeviceID, error) {
	devices, err := c.source.Devices(ctx)
	if err != nil {
		return nil, nil, err
	}

	data := make(map[DeviceID]Thermostat, len(devices))
	order := make([]DeviceID, 0, len(devices))
	for _, device := range devices {
		if device.ID == "" {
			continue
		}
		thermostat := Thermostat{Device: device}
		status, err := c.source.DeviceStatus(ctx, device.ID)
		if err != nil {
			c.logger.Error("device status failed", zap.String("device_id", string(device.ID)), zap.Error(err))
		} else {
			thermostat.Status = &status
		}
		if _, seen := data[device.ID]; !seen {
			order = append(order, device.ID)
		}
		data[device.ID] = thermostat
	}
	return data, order, nil
}

// announceLocked logs devices that appeared after setup once each.
func (c *Coordinator) announceLocked() {
	if c.discovered == nil {
		return
	}
	for _, id := range c.order {
		if c.announced[id] {
			continue
		}
		c.announced[id] = true
		c.logger.Info("new thermostat on account, restart to add its entities",
			zap.String("device_id", string(id)),
			zap.String("name", c.data[id].DisplayName()),
		)
	}
}

func (c *Coordinator) snapshotLocked() []Thermostat {
	out := make([]Thermostat, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.data[id])
	}
	return out
}

// Snapshot returns the thermostats from the latest successful poll.
func (c *Coordinator) Snapshot() []Thermostat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Coordinator) Thermostat(id DeviceID) (Thermostat, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.data[id]
	return t, ok
}

// Discovered returns the thermostat ids fixed at setup.
func (c *Coordinator) Discovered() []DeviceID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]DeviceID(nil), c.discovered...)
}

func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess
}

func (c *Coordinator) AuthFailed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authFailed
}

func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// LastPoll returns when the last refresh started and how long it took.
func (c *Coordinator) LastPoll() (time.Time, time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate, c.lastDuration
}

// Subscribe registers a listener. Updates are dropped for listeners that
// fall behind; call the returned func to unsubscribe.
func (c *Coordinator) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 4)
	c.mu.Lock()
	c.listeners[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, ch)
			c.mu.Unlock()
		})
	}
}

// Health reports ERROR after rejected credentials and DEGRADED after any
// other failed poll.
func (c *Coordinator) Health() (core.HealthStatus, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.authFailed:
		return core.HealthError, c.lastErr.Error()
	case c.lastErr != nil:
		return core.HealthDegraded, c.lastErr.Error()
	case c.lastUpdate.IsZero():
		return core.HealthDegraded, "no poll yet"
	default:
		return core.HealthHealthy, ""
	}
}
