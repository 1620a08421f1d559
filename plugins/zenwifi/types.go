package zenwifi

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultDeviceName is used when the account gives a thermostat no name.
const DefaultDeviceName = "Zen WiFi Thermostat"

// Status keys as reported by the device status endpoint.
const (
	KeyCurrentTemperature = "currentTemperature"
	KeyHeatingSetpoint    = "heatingSetpoint"
	KeyCoolingSetpoint    = "coolingSetpoint"
	KeyIsOnline           = "isOnline"
	KeyIsOnCWire          = "isOnCWire"
)

// DeviceID is the cloud identifier of a thermostat. The API issues numeric
// ids; they are held as text and sent back as numbers.
type DeviceID string

func (id *DeviceID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("device id: %w", err)
		}
		*id = DeviceID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("device id: %w", err)
	}
	*id = DeviceID(n.String())
	return nil
}

func (id DeviceID) MarshalJSON() ([]byte, error) {
	if isJSONInteger(string(id)) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func isJSONInteger(s string) bool {
	if s == "" || len(s) > 18 {
		return false
	}
	if s[0] == '0' && len(s) > 1 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Device is one entry of the account device list.
type Device struct {
	ID            DeviceID `json:"id"`
	Name          string   `json:"name,omitempty"`
	LocationID    any      `json:"locationId,omitempty"`
	HubMACAddress string   `json:"hubMacAddress,omitempty"`
}

// Status is the live state of a thermostat. Nil fields were absent from
// the response.
type Status struct {
	IsOnline           *bool        `json:"isOnline,omitempty"`
	IsOnCWire          *bool        `json:"isOnCWire,omitempty"`
	Mode               *int         `json:"mode,omitempty"`
	CurrentTemperature *float64     `json:"currentTemperature,omitempty"`
	HeatingSetpoint    *float64     `json:"heatingSetpoint,omitempty"`
	CoolingSetpoint    *float64     `json:"coolingSetpoint,omitempty"`
	RelayStates        *RelayStates `json:"relayStates,omitempty"`
}

// RelayStates reports which HVAC wires are energized.
type RelayStates struct {
	W1 bool `json:"w1"`
	W2 bool `json:"w2"`
	Y1 bool `json:"y1"`
	Y2 bool `json:"y2"`
	G  bool `json:"g"`
}

// Mode is the thermostat's native mode integer.
type Mode int

const (
	ModeHeat          Mode = 0
	ModeHeatLegacy    Mode = 1
	ModeCool          Mode = 2
	ModeOff           Mode = 3
	ModeAuto          Mode = 4
	ModeEco           Mode = 5
	ModeEmergencyHeat Mode = 6
	ModeZen           Mode = 7
)

func (m Mode) String() string {
	switch m {
	case ModeHeat, ModeHeatLegacy:
		return "heat"
	case ModeCool:
		return "cool"
	case ModeOff:
		return "off"
	case ModeAuto:
		return "auto"
	case ModeEco:
		return "eco"
	case ModeEmergencyHeat:
		return "emergency_heat"
	case ModeZen:
		return "zen"
	default:
		return "unknown"
	}
}

// HVACMode maps the native mode onto the standard climate modes. Eco, zen
// and unknown modes read as off.
func (m Mode) HVACMode() HVACMode {
	switch m {
	case ModeHeat, ModeHeatLegacy, ModeEmergencyHeat:
		return HVACHeat
	case ModeCool:
		return HVACCool
	case ModeAuto:
		return HVACHeatCool
	default:
		return HVACOff
	}
}

// HVACMode is a standard climate operating mode.
type HVACMode string

const (
	HVACOff      HVACMode = "off"
	HVACHeat     HVACMode = "heat"
	HVACCool     HVACMode = "cool"
	HVACHeatCool HVACMode = "heat_cool"
)

// HVACAction is what the equipment is doing right now.
type HVACAction string

const (
	ActionOff     HVACAction = "off"
	ActionHeating HVACAction = "heating"
	ActionCooling HVACAction = "cooling"
	ActionFan     HVACAction = "fan"
	ActionIdle    HVACAction = "idle"
)

// CommandMode selects the endpoint a mode command is posted to.
type CommandMode string

const (
	CommandHeat          CommandMode = "heat"
	CommandEmergencyHeat CommandMode = "emergency_heat"
	CommandCool          CommandMode = "cool"
	CommandOff           CommandMode = "off"
)

var commandPaths = map[CommandMode]string{
	CommandHeat:          "/api/v1/device/heat",
	CommandEmergencyHeat: "/api/v1/device/emergency/heat",
	CommandCool:          "/api/v1/device/cool",
	CommandOff:           "/api/v1/device/off",
}

// Thermostat is a device merged with the status from the latest poll.
type Thermostat struct {
	Device Device
	// Status is nil when the status call for this device failed.
	Status *Status
}

func (t Thermostat) ID() DeviceID {
	return t.Device.ID
}

func (t Thermostat) DisplayName() string {
	if t.Device.Name == "" {
		return DefaultDeviceName
	}
	return t.Device.Name
}

func (t Thermostat) Online() bool {
	return t.Status != nil && t.Status.IsOnline != nil && *t.Status.IsOnline
}

func (t Thermostat) CWire() bool {
	return t.Status != nil && t.Status.IsOnCWire != nil && *t.Status.IsOnCWire
}

// Mode returns the native mode, heat when unreported.
func (t Thermostat) Mode() Mode {
	if t.Status == nil || t.Status.Mode == nil {
		return ModeHeat
	}
	return Mode(*t.Status.Mode)
}

func (t Thermostat) HVACMode() HVACMode {
	return t.Mode().HVACMode()
}

// HVACAction derives the running action from the relay states.
func (t Thermostat) HVACAction() HVACAction {
	if !t.Online() {
		return ActionOff
	}
	var relays RelayStates
	if t.Status.RelayStates != nil {
		relays = *t.Status.RelayStates
	}
	switch {
	case relays.W1 || relays.W2:
		return ActionHeating
	case relays.Y1 || relays.Y2:
		return ActionCooling
	case relays.G:
		return ActionFan
	case t.Mode() == ModeOff:
		return ActionOff
	default:
		return ActionIdle
	}
}

func (t Thermostat) CurrentTemperature() *float64 {
	return t.Temperature(KeyCurrentTemperature)
}

// TargetTemperature is the heating setpoint in heat mode, the cooling
// setpoint in cool mode, and nil otherwise.
func (t Thermostat) TargetTemperature() *float64 {
	switch t.Mode() {
	case ModeHeat:
		return t.Temperature(KeyHeatingSetpoint)
	case ModeCool:
		return t.Temperature(KeyCoolingSetpoint)
	default:
		return nil
	}
}

// Temperature returns a numeric status value by key.
func (t Thermostat) Temperature(key string) *float64 {
	if t.Status == nil {
		return nil
	}
	switch key {
	case KeyCurrentTemperature:
		return t.Status.CurrentTemperature
	case KeyHeatingSetpoint:
		return t.Status.HeatingSetpoint
	case KeyCoolingSetpoint:
		return t.Status.CoolingSetpoint
	default:
		return nil
	}
}

// Flag returns a boolean status value by key, false when absent.
func (t Thermostat) Flag(key string) bool {
	switch key {
	case KeyIsOnline:
		return t.Online()
	case KeyIsOnCWire:
		return t.CWire()
	default:
		return false
	}
}

// Has reports whether the last status carried key.
func (t Thermostat) Has(key string) bool {
	if t.Status == nil {
		return false
	}
	switch key {
	case KeyIsOnline:
		return t.Status.IsOnline != nil
	case KeyIsOnCWire:
		return t.Status.IsOnCWire != nil
	default:
		return t.Temperature(key) != nil
	}
}

// ThermostatView is the JSON shape served to HTTP, MQTT and gRPC clients.
type ThermostatView struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Online             bool       `json:"online"`
	CWire              bool       `json:"c_wire"`
	Mode               string     `json:"mode"`
	HVACMode           HVACMode   `json:"hvac_mode"`
	HVACAction         HVACAction `json:"hvac_action"`
	CurrentTemperature *float64   `json:"current_temperature,omitempty"`
	TargetTemperature  *float64   `json:"target_temperature,omitempty"`
	HeatingSetpoint    *float64   `json:"heating_setpoint,omitempty"`
	CoolingSetpoint    *float64   `json:"cooling_setpoint,omitempty"`
	HasStatus          bool       `json:"has_status"`
}

func (t Thermostat) View() ThermostatView {
	return ThermostatView{
		ID:                 string(t.ID()),
		Name:               t.DisplayName(),
		Online:             t.Online(),
		CWire:              t.CWire(),
		Mode:               t.Mode().String(),
		HVACMode:           t.HVACMode(),
		HVACAction:         t.HVACAction(),
		CurrentTemperature: t.CurrentTemperature(),
		TargetTemperature:  t.TargetTemperature(),
		HeatingSetpoint:    t.Temperature(KeyHeatingSetpoint),
		CoolingSetpoint:    t.Temperature(KeyCoolingSetpoint),
		HasStatus:          t.Status != nil,
	}
}
