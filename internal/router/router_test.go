package router

import (
	"testing"

	"github.com/DanrwAU/zenwifi/internal/core"
	"github.com/DanrwAU/zenwifi/internal/oauth"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

type fakePlugin struct {
	registered *bool
}

func (f fakePlugin) ID() string                          { return "fake" }
func (f fakePlugin) Manifest() core.Manifest             { return core.Manifest{PluginID: "fake"} }
func (f fakePlugin) OAuthDeclaration() oauth.Declaration { return oauth.Declaration{} }
func (f fakePlugin) Dashboards() []core.Dashboard        { return nil }
func (f fakePlugin) RegisterGRPC(*grpc.Server)           { *f.registered = true }
func (f fakePlugin) Collectors() []prometheus.Collector  { return nil }
func (f fakePlugin) Entities() []core.Entity             { return nil }
func (f fakePlugin) Health() core.HealthStatus           { return core.HealthHealthy }
func (f fakePlugin) HealthMessage() string               { return "" }

func TestRegisterPlugins(t *testing.T) {
	registered := false
	server := grpc.NewServer()
	if err := RegisterPlugins(server, []core.Plugin{fakePlugin{registered: &registered}}); err != nil {
		t.Fatalf("RegisterPlugins: %v", err)
	}
	if !registered {
		t.Fatalf("expected plugin services registered")
	}
	if _, ok := server.GetServiceInfo()[core.RegistryServiceName]; !ok {
		t.Fatalf("expected registry service on the server")
	}
}
