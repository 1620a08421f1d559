package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DanrwAU/zenwifi/internal/oauth"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type stubEntity struct {
	desc      EntityDescription
	available bool
	state     any
}

func (s stubEntity) Description() EntityDescription { return s.desc }

func (s stubEntity) Available() bool { return s.available }

func (s stubEntity) State() any { return s.state }

func (s stubEntity) Attributes() map[string]any { return nil }

type stubPlugin struct {
	id            string
	name          string
	version       string
	services      []string
	dashboards    []Dashboard
	entities      []Entity
	health        HealthStatus
	healthMessage string
}

func (s stubPlugin) ID() string { return s.id }

func (s stubPlugin) Manifest() Manifest {
	return Manifest{
		PluginID:    s.id,
		DisplayName: s.name,
		Version:     s.version,
		Services:    s.services,
	}
}

func (s stubPlugin) OAuthDeclaration() oauth.Declaration { return oauth.Declaration{} }

func (s stubPlugin) Dashboards() []Dashboard { return s.dashboards }

func (s stubPlugin) RegisterGRPC(*grpc.Server) {}

func (s stubPlugin) Collectors() []prometheus.Collector { return nil }

func (s stubPlugin) Entities() []Entity { return s.entities }

func (s stubPlugin) Health() HealthStatus { return s.health }

func (s stubPlugin) HealthMessage() string { return s.healthMessage }

func newStubPlugin(id string) stubPlugin {
	return stubPlugin{
		id:         id,
		name:       "Demo",
		version:    "0.1.0",
		services:   []string{"zenwifi.v1.DemoService"},
		health:     HealthHealthy,
		dashboards: []Dashboard{{Name: "demo", JSON: []byte("{}")}},
		entities: []Entity{
			stubEntity{desc: EntityDescription{UniqueID: id + "_b", Platform: PlatformSensor, DeviceID: "1"}, available: true, state: 21.5},
			stubEntity{desc: EntityDescription{UniqueID: id + "_a", Platform: PlatformBinarySensor, DeviceID: "1"}, state: true},
		},
	}
}

func TestRegistryListPlugins(t *testing.T) {
	plugin := newStubPlugin("demo")
	svc := NewRegistryService([]Plugin{plugin})

	resp, err := svc.ListPlugins(context.Background(), &emptypb.Empty{})
	if err != nil {
		t.Fatalf("ListPlugins error: %v", err)
	}
	plugins := resp.Fields["plugins"].GetListValue().GetValues()
	if len(plugins) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(plugins))
	}

	got := plugins[0].GetStructValue().GetFields()
	if got["plugin_id"].GetStringValue() != "demo" || got["display_name"].GetStringValue() != "Demo" || got["version"].GetStringValue() != "0.1.0" {
		t.Fatalf("unexpected plugin summary: %v", got)
	}
	if got["status"].GetStringValue() != string(HealthHealthy) {
		t.Fatalf("unexpected health status: %v", got["status"])
	}
}

func TestRegistryDescribePlugin(t *testing.T) {
	plugin := newStubPlugin("demo")
	svc := NewRegistryService([]Plugin{plugin})

	resp, err := svc.DescribePlugin(context.Background(), wrapperspb.String("demo"))
	if err != nil {
		t.Fatalf("DescribePlugin error: %v", err)
	}
	if resp.Fields["plugin_id"].GetStringValue() != "demo" {
		t.Fatalf("unexpected plugin id: %v", resp.Fields["plugin_id"])
	}
	dashboards := resp.Fields["dashboards"].GetListValue().GetValues()
	if len(dashboards) != 1 {
		t.Fatalf("expected 1 dashboard, got %d", len(dashboards))
	}
	if path := dashboards[0].GetStructValue().Fields["path"].GetStringValue(); path != "/dashboards/demo/demo.json" {
		t.Fatalf("unexpected dashboard path: %s", path)
	}
	if entities := resp.Fields["entities"].GetListValue().GetValues(); len(entities) != 2 {
		t.Fatalf("expected 2 entity descriptions, got %d", len(entities))
	}

	_, err = svc.DescribePlugin(context.Background(), wrapperspb.String("missing"))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestRegistryEntities(t *testing.T) {
	svc := NewRegistryService([]Plugin{newStubPlugin("demo")})

	resp, err := svc.ListEntities(context.Background(), &emptypb.Empty{})
	if err != nil {
		t.Fatalf("ListEntities error: %v", err)
	}
	entities := resp.Fields["entities"].GetListValue().GetValues()
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(entities))
	}
	first := entities[0].GetStructValue().GetFields()
	if first["unique_id"].GetStringValue() != "demo_a" {
		t.Fatalf("expected entities sorted by unique id, got %v", first["unique_id"])
	}

	one, err := svc.DescribeEntity(context.Background(), wrapperspb.String("demo_b"))
	if err != nil {
		t.Fatalf("DescribeEntity error: %v", err)
	}
	if one.Fields["state"].GetNumberValue() != 21.5 || !one.Fields["available"].GetBoolValue() {
		t.Fatalf("unexpected entity state: %v", one)
	}

	_, err = svc.DescribeEntity(context.Background(), wrapperspb.String("nope"))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestValidatePlugins(t *testing.T) {
	if err := ValidatePlugins([]Plugin{newStubPlugin("demo")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidatePlugins([]Plugin{newStubPlugin("demo"), newStubPlugin("demo")}); err == nil {
		t.Fatalf("expected duplicate plugin error")
	}
	if err := ValidatePlugins([]Plugin{newStubPlugin("Demo")}); err == nil {
		t.Fatalf("expected id pattern error")
	}

	dup := newStubPlugin("demo")
	dup.entities = append(dup.entities, dup.entities[0])
	if err := ValidatePlugins([]Plugin{dup}); err == nil {
		t.Fatalf("expected duplicate entity error")
	}
}

func TestDashboards(t *testing.T) {
	plugins := []Plugin{newStubPlugin("demo")}

	dashboards := DashboardsMap(plugins)
	if _, ok := dashboards["/dashboards/demo/demo.json"]; !ok {
		t.Fatalf("unexpected dashboards map: %v", dashboards)
	}

	dir := t.TempDir()
	if err := WriteDashboards(dir, plugins); err != nil {
		t.Fatalf("WriteDashboards: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "demo", "demo.json")); err != nil {
		t.Fatalf("expected dashboard file: %v", err)
	}
}

func TestMetricsRegistryGathers(t *testing.T) {
	registry := MetricsRegistry([]Plugin{newStubPlugin("demo")})
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected process metrics")
	}
}
