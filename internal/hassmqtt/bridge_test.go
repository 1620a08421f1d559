package hassmqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DanrwAU/zenwifi/internal/core"
)

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeTransport struct {
	mu        sync.Mutex
	published []published
	subs      map[string][]func([]byte)
	failSub   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: make(map[string][]func([]byte))}
}

func (f *fakeTransport) Publish(topic string, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, retained: retained, payload: payload})
	return nil
}

func (f *fakeTransport) Subscribe(topic string, cb func([]byte)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSub {
		return nil, errors.New("not connected")
	}
	f.subs[topic] = append(f.subs[topic], cb)
	return func() {
		f.mu.Lock()
		delete(f.subs, topic)
		f.mu.Unlock()
	}, nil
}

func (f *fakeTransport) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	f.mu.Lock()
	callbacks := append([]func([]byte){}, f.subs[topic]...)
	f.mu.Unlock()
	if len(callbacks) == 0 {
		t.Fatalf("no subscriber for %s", topic)
	}
	for _, cb := range callbacks {
		cb([]byte(payload))
	}
}

func (f *fakeTransport) last(topic string) (published, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.published) - 1; i >= 0; i-- {
		if f.published[i].topic == topic {
			return f.published[i], true
		}
	}
	return published{}, false
}

func (f *fakeTransport) count(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.published {
		if p.topic == topic {
			n++
		}
	}
	return n
}

type stubEntity struct {
	desc      core.EntityDescription
	available bool
	state     any
	attrs     map[string]any
}

func (e stubEntity) Description() core.EntityDescription { return e.desc }
func (e stubEntity) Available() bool                    { return e.available }
func (e stubEntity) State() any                         { return e.state }
func (e stubEntity) Attributes() map[string]any         { return e.attrs }

type command struct {
	deviceID string
	mode     string
	temp     float64
}

type fakeCommander struct {
	calls chan command
	err   error
}

func (f *fakeCommander) SetHVACMode(_ context.Context, deviceID, mode string) error {
	f.calls <- command{deviceID: deviceID, mode: mode}
	return f.err
}

func (f *fakeCommander) SetTemperature(_ context.Context, deviceID string, temperature float64) error {
	f.calls <- command{deviceID: deviceID, temp: temperature}
	return f.err
}

func testEntities() []core.Entity {
	device := core.DeviceInfo{
		Identifiers:  [][2]string{{"zenwifi", "101"}},
		Name:         "Hall Thermostat",
		Manufacturer: "Zen Ecosystems",
		Model:        "Zen WiFi Thermostat",
	}
	return []core.Entity{
		stubEntity{
			desc: core.EntityDescription{
				UniqueID: "101_climate", Platform: core.PlatformClimate, DeviceID: "101", Key: "climate",
				EnabledByDefault: true, Device: device,
			},
			available: true,
			state:     "heat",
			attrs:     map[string]any{"current_temperature": 19.5, "temperature": 21.0, "hvac_action": "heating"},
		},
		stubEntity{
			desc: core.EntityDescription{
				UniqueID: "101_current_temperature", Platform: core.PlatformSensor, DeviceID: "101", Key: "current_temperature",
				Name: "Current temperature", DeviceClass: "temperature", StateClass: "measurement", Unit: "°C",
				EnabledByDefault: true, Device: device,
			},
			available: true,
			state:     19.5,
		},
		stubEntity{
			desc: core.EntityDescription{
				UniqueID: "101_online", Platform: core.PlatformBinarySensor, DeviceID: "101", Key: "online",
				Name: "Online", DeviceClass: "connectivity", Device: device,
			},
			available: false,
			state:     false,
		},
	}
}

func startBridge(t *testing.T, discovery bool) (*fakeTransport, *fakeCommander, *Bridge) {
	t.Helper()
	transport := newFakeTransport()
	commander := &fakeCommander{calls: make(chan command, 4)}
	bridge := NewBridge(transport, commander, testEntities(), Options{Prefix: "zenwifi", Discovery: discovery})
	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(bridge.Stop)
	return transport, commander, bridge
}

func decode(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("decode %s: %v", payload, err)
	}
	return out
}

func TestStartPublishesDiscovery(t *testing.T) {
	transport, _, _ := startBridge(t, true)

	climate, ok := transport.last("homeassistant/climate/zenwifi/101_climate/config")
	if !ok || !climate.retained {
		t.Fatalf("expected retained climate discovery, got %+v", climate)
	}
	cfg := decode(t, climate.payload)
	if cfg["mode_command_topic"] != "zenwifi/101/mode/set" || cfg["temperature_command_topic"] != "zenwifi/101/temperature/set" {
		t.Fatalf("unexpected command topics: %v", cfg)
	}
	if _, ok := cfg["state_topic"]; ok {
		t.Fatalf("climate should not carry a generic state topic")
	}
	if cfg["name"] != nil {
		t.Fatalf("climate should take the device name, got %v", cfg["name"])
	}
	if !strings.Contains(cfg["current_temperature_template"].(string), "current_temperature") {
		t.Fatalf("unexpected current temperature template %v", cfg["current_temperature_template"])
	}
	device := cfg["device"].(map[string]any)
	if ids := device["identifiers"].([]any); len(ids) != 1 || ids[0] != "zenwifi_101" {
		t.Fatalf("unexpected identifiers %v", ids)
	}

	sensor, ok := transport.last("homeassistant/sensor/zenwifi/101_current_temperature/config")
	if !ok {
		t.Fatalf("missing sensor discovery")
	}
	cfg = decode(t, sensor.payload)
	if cfg["unit_of_measurement"] != "°C" || cfg["state_class"] != "measurement" || cfg["name"] != "Current temperature" {
		t.Fatalf("unexpected sensor config %v", cfg)
	}
	if cfg["state_topic"] != "zenwifi/101/state" || cfg["availability_mode"] != "all" {
		t.Fatalf("unexpected sensor topics %v", cfg)
	}
	availability := cfg["availability"].([]any)
	if len(availability) != 2 || availability[0].(map[string]any)["topic"] != "zenwifi/status" {
		t.Fatalf("unexpected availability %v", availability)
	}

	binary, ok := transport.last("homeassistant/binary_sensor/zenwifi/101_online/config")
	if !ok {
		t.Fatalf("missing binary sensor discovery")
	}
	cfg = decode(t, binary.payload)
	if cfg["payload_on"] != "ON" || cfg["enabled_by_default"] != false {
		t.Fatalf("unexpected binary sensor config %v", cfg)
	}
}

func TestStartWithoutDiscovery(t *testing.T) {
	transport, _, _ := startBridge(t, false)
	if transport.count("homeassistant/climate/zenwifi/101_climate/config") != 0 {
		t.Fatalf("discovery should be disabled")
	}
	if _, ok := transport.last("zenwifi/101/state"); !ok {
		t.Fatalf("state should still be published")
	}
}

func TestPublishStatesDocument(t *testing.T) {
	transport, _, _ := startBridge(t, false)

	msg, ok := transport.last("zenwifi/101/state")
	if !ok || !msg.retained {
		t.Fatalf("expected retained state, got %+v", msg)
	}
	doc := decode(t, msg.payload)
	climate := doc["climate"].(map[string]any)
	if climate["state"] != "heat" || climate["available"] != true {
		t.Fatalf("unexpected climate doc %v", climate)
	}
	if attrs := climate["attributes"].(map[string]any); attrs["hvac_action"] != "heating" {
		t.Fatalf("unexpected climate attributes %v", attrs)
	}
	online := doc["online"].(map[string]any)
	if online["available"] != false {
		t.Fatalf("unexpected online doc %v", online)
	}
}

func TestCommandsReachCommander(t *testing.T) {
	transport, commander, _ := startBridge(t, false)

	transport.deliver(t, "zenwifi/101/mode/set", " cool ")
	select {
	case call := <-commander.calls:
		if call.deviceID != "101" || call.mode != "cool" {
			t.Fatalf("unexpected mode call %+v", call)
		}
	case <-time.After(time.Second):
		t.Fatalf("mode command not dispatched")
	}

	transport.deliver(t, "zenwifi/101/temperature/set", "22.5")
	select {
	case call := <-commander.calls:
		if call.deviceID != "101" || call.temp != 22.5 {
			t.Fatalf("unexpected temperature call %+v", call)
		}
	case <-time.After(time.Second):
		t.Fatalf("temperature command not dispatched")
	}

	transport.deliver(t, "zenwifi/101/temperature/set", "warm")
	select {
	case call := <-commander.calls:
		t.Fatalf("invalid payload should be dropped, got %+v", call)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRepublishOnHomeAssistantOnline(t *testing.T) {
	transport, _, _ := startBridge(t, true)
	topic := "homeassistant/sensor/zenwifi/101_current_temperature/config"
	if transport.count(topic) != 1 {
		t.Fatalf("expected one discovery publish")
	}

	transport.deliver(t, "homeassistant/status", "offline")
	if transport.count(topic) != 1 {
		t.Fatalf("offline must not republish")
	}
	transport.deliver(t, "homeassistant/status", "online")
	if transport.count(topic) != 2 {
		t.Fatalf("expected republish on online, got %d", transport.count(topic))
	}
	if transport.count("zenwifi/101/state") != 2 {
		t.Fatalf("expected state republish on online")
	}
}

func TestPublishEvent(t *testing.T) {
	transport, _, bridge := startBridge(t, false)
	if err := bridge.PublishEvent("101", map[string]string{"trigger": "hvac_action"}); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}
	msg, ok := transport.last("zenwifi/101/event")
	if !ok || msg.retained {
		t.Fatalf("expected non-retained event, got %+v", msg)
	}
}

func TestStartFailsWhenSubscribeFails(t *testing.T) {
	transport := newFakeTransport()
	transport.failSub = true
	bridge := NewBridge(transport, &fakeCommander{calls: make(chan command, 1)}, testEntities(), Options{Prefix: "zenwifi"})
	if err := bridge.Start(context.Background()); err == nil {
		t.Fatalf("expected subscribe error")
	}
}
