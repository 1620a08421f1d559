package zenwifi

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/DanrwAU/zenwifi/internal/config"
	"github.com/DanrwAU/zenwifi/internal/core"
	"github.com/DanrwAU/zenwifi/internal/oauth"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

//go:embed dashboard.json
var dashboardJSON []byte

// Options carries the optional collaborators of a Plugin.
type Options struct {
	HTTPClient      *http.Client
	BlobStore       oauth.BlobStore
	Logger          *zap.Logger
	RefreshInterval time.Duration
	Triggers        []config.TriggerConfig
}

// Plugin implements the plugin contract for one Zen account.
type Plugin struct {
	cfg         Config
	logger      *zap.Logger
	client      *Client
	commands    Commander
	coordinator *Coordinator
	entities    []core.Entity
	climates    []*Climate
	triggers    *TriggerEngine

	mu       sync.Mutex
	handlers []func(Event)
}

// NewPlugin logs in, performs the first refresh and builds the entities.
// Any failure here must abort startup.
func NewPlugin(ctx context.Context, cfg Config, opts Options) (*Plugin, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named(PluginID)

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg)
	}

	manager, err := oauth.NewManager(cfg.OAuthDeclaration(), cfg.Credentials, opts.BlobStore, oauth.Options{
		HTTPClient: httpClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	manager.StartWithInterval(ctx, opts.RefreshInterval)

	client, err := NewClient(cfg, manager, httpClient, logger)
	if err != nil {
		return nil, err
	}

	coordinator := NewCoordinator(client, cfg.pollInterval(), logger)
	if err := coordinator.Setup(ctx); err != nil {
		return nil, err
	}

	p, err := newPlugin(cfg, coordinator, client, opts.Triggers, logger)
	if err != nil {
		return nil, err
	}
	p.client = client
	return p, nil
}

// newPlugin builds entities and triggers over a coordinator that has
// already completed setup.
func newPlugin(cfg Config, coordinator *Coordinator, commands Commander, triggers []config.TriggerConfig, logger *zap.Logger) (*Plugin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Plugin{
		cfg:         cfg,
		logger:      logger,
		commands:    commands,
		coordinator: coordinator,
		entities:    NewEntities(coordinator, commands),
	}
	for _, e := range p.entities {
		if climate, ok := e.(*Climate); ok {
			p.climates = append(p.climates, climate)
		}
	}

	resolved := make([]Trigger, 0, len(triggers))
	for i, tc := range triggers {
		climate, err := p.Climate(tc.Device)
		if err != nil {
			return nil, fmt.Errorf("automation.triggers[%d]: %w", i, err)
		}
		resolved = append(resolved, Trigger{
			Name:     tc.Name,
			DeviceID: climate.DeviceID(),
			Type:     TriggerType(tc.Type),
			Above:    tc.Above,
			Below:    tc.Below,
			For:      tc.For,
		})
	}
	engine, err := NewTriggerEngine(p.climates, resolved, logger)
	if err != nil {
		return nil, err
	}
	engine.OnEvent(recordTrigger)
	engine.OnEvent(p.dispatch)
	p.triggers = engine
	return p, nil
}

// Run polls and evaluates triggers until ctx is done.
func (p *Plugin) Run(ctx context.Context) {
	updates, unsubscribe := p.coordinator.Subscribe()
	defer unsubscribe()

	// Seed trigger state from the setup snapshot.
	p.triggers.Evaluate()
	go p.triggers.Run(ctx, updates)
	p.coordinator.Run(ctx)
}

func (p *Plugin) Coordinator() *Coordinator {
	return p.coordinator
}

// Client returns the API client, nil for plugins built over a fake source.
func (p *Plugin) Client() *Client {
	return p.client
}

// OnEvent registers a handler for fired device triggers.
func (p *Plugin) OnEvent(fn func(Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, fn)
}

func (p *Plugin) dispatch(event Event) {
	p.mu.Lock()
	handlers := append([]func(Event){}, p.handlers...)
	p.mu.Unlock()
	for _, fn := range handlers {
		fn(event)
	}
}

// Climates returns the climate entities in discovery order.
func (p *Plugin) Climates() []*Climate {
	return append([]*Climate(nil), p.climates...)
}

// Climate resolves a thermostat by id, then by display name.
func (p *Plugin) Climate(ref string) (*Climate, error) {
	ref = strings.TrimSpace(ref)
	for _, c := range p.climates {
		if string(c.DeviceID()) == ref {
			return c, nil
		}
	}

	needle := normalizeName(ref)
	var match *Climate
	for _, c := range p.climates {
		if normalizeName(c.device.Name) != needle {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("%w: name %q matches more than one thermostat", ErrUnknownThermostat, ref)
		}
		match = c
	}
	if match != nil {
		return match, nil
	}

	available := make([]string, 0, len(p.climates))
	for _, c := range p.climates {
		available = append(available, fmt.Sprintf("%s (%s)", c.device.Name, c.DeviceID()))
	}
	sort.Strings(available)
	return nil, fmt.Errorf("%w: %q not found. Available: %s", ErrUnknownThermostat, ref, strings.Join(available, ", "))
}

// CheckCondition evaluates a device condition against a thermostat.
func (p *Plugin) CheckCondition(ref string, cond Condition) (bool, error) {
	if err := cond.Validate(); err != nil {
		return false, err
	}
	climate, err := p.Climate(ref)
	if err != nil {
		return false, err
	}
	return cond.Evaluate(StateOf(climate)), nil
}

// SetHVACMode and SetTemperature serve command surfaces that address
// thermostats by reference.
func (p *Plugin) SetHVACMode(ctx context.Context, ref, mode string) error {
	climate, err := p.Climate(ref)
	if err != nil {
		return err
	}
	return climate.SetHVACMode(ctx, HVACMode(strings.ToLower(strings.TrimSpace(mode))))
}

func (p *Plugin) SetTemperature(ctx context.Context, ref string, temperature float64) error {
	climate, err := p.Climate(ref)
	if err != nil {
		return err
	}
	return climate.SetTemperature(ctx, temperature)
}

func (p *Plugin) ID() string {
	return PluginID
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    PluginID,
		DisplayName: "Zen WiFi Thermostat",
		Version:     "0.1.0",
		Services:    []string{ThermostatServiceName},
	}
}

func (p *Plugin) OAuthDeclaration() oauth.Declaration {
	return p.cfg.OAuthDeclaration()
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "zenwifi-overview", JSON: dashboardJSON}}
}

func (p *Plugin) RegisterGRPC(server *grpc.Server) {
	if err := RegisterThermostatService(server, p); err != nil {
		p.logger.Error("register thermostat service", zap.Error(err))
	}
}

func (p *Plugin) Collectors() []prometheus.Collector {
	return []prometheus.Collector{NewMetricsCollector(p.coordinator)}
}

func (p *Plugin) Entities() []core.Entity {
	return append([]core.Entity(nil), p.entities...)
}

func (p *Plugin) Health() core.HealthStatus {
	status, _ := p.coordinator.Health()
	return status
}

func (p *Plugin) HealthMessage() string {
	_, message := p.coordinator.Health()
	return message
}

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	replacer := strings.NewReplacer(" ", "_", "-", "_")
	name = replacer.Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}
