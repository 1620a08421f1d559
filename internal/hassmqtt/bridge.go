package hassmqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DanrwAU/zenwifi/internal/core"
)

const commandTimeout = 20 * time.Second

// Commander applies climate commands addressed by device id.
type Commander interface {
	SetHVACMode(ctx context.Context, deviceID, mode string) error
	SetTemperature(ctx context.Context, deviceID string, temperature float64) error
}

// Options configure a Bridge.
type Options struct {
	Prefix          string
	Discovery       bool
	DiscoveryPrefix string
	Logger          *zap.Logger
}

// Bridge mirrors entities to MQTT. Each device gets one retained state
// document at <prefix>/<device>/state keyed by entity key; discovery
// configs point Home Assistant at it through templates.
type Bridge struct {
	transport Transport
	commands  Commander
	entities  []core.Entity
	opts      Options
	logger    *zap.Logger

	mu     sync.Mutex
	unsubs []func()
}

type entityDoc struct {
	State      any            `json:"state"`
	Available  bool           `json:"available"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func NewBridge(transport Transport, commands Commander, entities []core.Entity, opts Options) *Bridge {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DiscoveryPrefix == "" {
		opts.DiscoveryPrefix = "homeassistant"
	}
	return &Bridge{
		transport: transport,
		commands:  commands,
		entities:  entities,
		opts:      opts,
		logger:    opts.Logger.Named("hassmqtt"),
	}
}

// Start publishes discovery and current state and subscribes to climate
// command topics. Discovery is republished whenever Home Assistant comes
// back online.
func (b *Bridge) Start(ctx context.Context) error {
	if b.opts.Discovery {
		if err := b.PublishDiscovery(); err != nil {
			return err
		}
		unsub, err := b.transport.Subscribe(b.opts.DiscoveryPrefix+"/status", func(payload []byte) {
			if string(payload) != payloadOnline {
				return
			}
			b.logger.Info("home assistant online, republishing discovery")
			if err := b.PublishDiscovery(); err != nil {
				b.logger.Warn("republish discovery failed", zap.Error(err))
			}
			if err := b.PublishStates(); err != nil {
				b.logger.Warn("republish states failed", zap.Error(err))
			}
		})
		if err := b.track(unsub, err); err != nil {
			return err
		}
	}

	for _, e := range b.entities {
		desc := e.Description()
		if desc.Platform != core.PlatformClimate {
			continue
		}
		deviceID := desc.DeviceID
		if err := b.track(b.transport.Subscribe(b.modeCommandTopic(deviceID), func(payload []byte) {
			go b.handleMode(ctx, deviceID, string(payload))
		})); err != nil {
			return err
		}
		if err := b.track(b.transport.Subscribe(b.temperatureCommandTopic(deviceID), func(payload []byte) {
			go b.handleTemperature(ctx, deviceID, string(payload))
		})); err != nil {
			return err
		}
	}
	return b.PublishStates()
}

// Stop drops every subscription.
func (b *Bridge) Stop() {
	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

func (b *Bridge) track(unsub func(), err error) error {
	if err != nil {
		return fmt.Errorf("mqtt subscribe: %w", err)
	}
	b.mu.Lock()
	b.unsubs = append(b.unsubs, unsub)
	b.mu.Unlock()
	return nil
}

// PublishStates publishes one retained state document per device.
func (b *Bridge) PublishStates() error {
	docs := make(map[string]map[string]entityDoc)
	for _, e := range b.entities {
		desc := e.Description()
		doc := docs[desc.DeviceID]
		if doc == nil {
			doc = make(map[string]entityDoc)
			docs[desc.DeviceID] = doc
		}
		doc[desc.Key] = entityDoc{State: e.State(), Available: e.Available(), Attributes: e.Attributes()}
	}

	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		data, err := json.Marshal(docs[id])
		if err != nil {
			return fmt.Errorf("encode state %s: %w", id, err)
		}
		if err := b.transport.Publish(b.stateTopic(id), true, data); err != nil {
			return fmt.Errorf("publish state %s: %w", id, err)
		}
	}
	return nil
}

// PublishEvent publishes a non-retained event for a device.
func (b *Bridge) PublishEvent(deviceID string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.transport.Publish(b.opts.Prefix+"/"+deviceID+"/event", false, data)
}

// PublishDiscovery publishes a retained discovery config per entity.
func (b *Bridge) PublishDiscovery() error {
	for _, e := range b.entities {
		desc := e.Description()
		component, payload, err := b.discovery(desc)
		if err != nil {
			return err
		}
		if component == "" {
			continue
		}
		topic := fmt.Sprintf("%s/%s/%s/%s/config", b.opts.DiscoveryPrefix, component, nodeID(b.opts.Prefix), desc.UniqueID)
		if err := b.transport.Publish(topic, true, payload); err != nil {
			return fmt.Errorf("publish discovery %s: %w", desc.UniqueID, err)
		}
	}
	return nil
}

func (b *Bridge) discovery(desc core.EntityDescription) (string, []byte, error) {
	base := b.entityModel(desc)
	var (
		component string
		model     any
	)
	switch desc.Platform {
	case core.PlatformClimate:
		component = "climate"
		state := b.stateTopic(desc.DeviceID)
		attr := fmt.Sprintf("value_json[%q].attributes", desc.Key)
		// Mode and temperature templates replace the generic state topic.
		base.StateTopic = ""
		base.ValueTemplate = ""
		model = ClimateModel{
			EntityModel:                base,
			ModeCommandTopic:           b.modeCommandTopic(desc.DeviceID),
			ModeStateTopic:             state,
			ModeStateTemplate:          fmt.Sprintf("{{ value_json[%q].state }}", desc.Key),
			Modes:                      []string{"off", "heat", "cool"},
			TemperatureCommandTopic:    b.temperatureCommandTopic(desc.DeviceID),
			TemperatureStateTopic:      state,
			TemperatureStateTemplate:   "{{ " + attr + ".temperature }}",
			CurrentTemperatureTopic:    state,
			CurrentTemperatureTemplate: "{{ " + attr + ".current_temperature }}",
			ActionTopic:                state,
			ActionTemplate:             "{{ " + attr + ".hvac_action }}",
			TemperatureUnit:            "C",
			Precision:                  0.5,
		}
	case core.PlatformSensor:
		component = "sensor"
		model = SensorModel{
			EntityModel:       base,
			StateClass:        desc.StateClass,
			UnitOfMeasurement: desc.Unit,
		}
	case core.PlatformBinarySensor:
		component = "binary_sensor"
		base.ValueTemplate = fmt.Sprintf("{{ 'ON' if value_json[%q].state else 'OFF' }}", desc.Key)
		model = BinarySensorModel{EntityModel: base, PayloadOn: "ON", PayloadOff: "OFF"}
	default:
		return "", nil, nil
	}
	data, err := json.Marshal(model)
	if err != nil {
		return "", nil, fmt.Errorf("encode discovery %s: %w", desc.UniqueID, err)
	}
	return component, data, nil
}

func (b *Bridge) entityModel(desc core.EntityDescription) EntityModel {
	state := b.stateTopic(desc.DeviceID)
	enabled := desc.EnabledByDefault
	model := EntityModel{
		Availability: []AvailabilityModel{
			{Topic: StatusTopic(b.opts.Prefix)},
			{
				Topic:               state,
				ValueTemplate:       fmt.Sprintf("{{ 'online' if value_json[%q].available else 'offline' }}", desc.Key),
				PayloadAvailable:    payloadOnline,
				PayloadNotAvailable: payloadOffline,
			},
		},
		AvailabilityMode: "all",
		Device:           deviceModel(desc.Device),
		DeviceClass:      desc.DeviceClass,
		EnabledByDefault: &enabled,
		Icon:             desc.Icon,
		StateTopic:       state,
		UniqueID:         desc.UniqueID,
		ValueTemplate:    fmt.Sprintf("{{ value_json[%q].state }}", desc.Key),
	}
	if desc.Name != "" {
		name := desc.Name
		model.Name = &name
	}
	return model
}

func deviceModel(info core.DeviceInfo) *DeviceModel {
	ids := make([]string, 0, len(info.Identifiers))
	for _, pair := range info.Identifiers {
		ids = append(ids, pair[0]+"_"+pair[1])
	}
	return &DeviceModel{
		Identifiers:  ids,
		Manufacturer: info.Manufacturer,
		Model:        info.Model,
		Name:         info.Name,
	}
}

func (b *Bridge) handleMode(ctx context.Context, deviceID, payload string) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	mode := strings.TrimSpace(payload)
	if err := b.commands.SetHVACMode(ctx, deviceID, mode); err != nil {
		b.logger.Warn("mode command failed", zap.String("device_id", deviceID), zap.String("mode", mode), zap.Error(err))
		return
	}
	b.logger.Info("mode command applied", zap.String("device_id", deviceID), zap.String("mode", mode))
}

func (b *Bridge) handleTemperature(ctx context.Context, deviceID, payload string) {
	temperature, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		b.logger.Warn("invalid temperature command", zap.String("device_id", deviceID), zap.String("payload", payload))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := b.commands.SetTemperature(ctx, deviceID, temperature); err != nil {
		b.logger.Warn("temperature command failed", zap.String("device_id", deviceID), zap.Float64("temperature", temperature), zap.Error(err))
		return
	}
	b.logger.Info("temperature command applied", zap.String("device_id", deviceID), zap.Float64("temperature", temperature))
}

func (b *Bridge) stateTopic(deviceID string) string {
	return b.opts.Prefix + "/" + deviceID + "/state"
}

func (b *Bridge) modeCommandTopic(deviceID string) string {
	return b.opts.Prefix + "/" + deviceID + "/mode/set"
}

func (b *Bridge) temperatureCommandTopic(deviceID string) string {
	return b.opts.Prefix + "/" + deviceID + "/temperature/set"
}

// nodeID turns the topic prefix into a discovery node id.
func nodeID(prefix string) string {
	return strings.NewReplacer("/", "_", " ", "_", "#", "", "+", "").Replace(prefix)
}
