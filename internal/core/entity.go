package core

// Platform is the kind of entity a plugin exposes.
type Platform string

const (
	PlatformClimate      Platform = "climate"
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
)

// DeviceInfo groups entities under one physical device.
type DeviceInfo struct {
	// Identifiers are (domain, id) pairs.
	Identifiers  [][2]string `json:"identifiers"`
	Name         string      `json:"name"`
	Manufacturer string      `json:"manufacturer,omitempty"`
	Model        string      `json:"model,omitempty"`
}

// EntityDescription is the static metadata of an entity.
type EntityDescription struct {
	UniqueID string   `json:"unique_id"`
	Platform Platform `json:"platform"`
	// DeviceID is the plugin's id for the owning device.
	DeviceID string `json:"device_id"`
	// Key names the entity within its device.
	Key string `json:"key"`
	// Name is empty when the entity takes the device name.
	Name             string     `json:"name,omitempty"`
	Icon             string     `json:"icon,omitempty"`
	DeviceClass      string     `json:"device_class,omitempty"`
	StateClass       string     `json:"state_class,omitempty"`
	Unit             string     `json:"unit,omitempty"`
	EnabledByDefault bool       `json:"enabled_by_default"`
	Device           DeviceInfo `json:"device"`
}

// Entity is a read view over plugin state.
type Entity interface {
	Description() EntityDescription
	Available() bool
	// State is the primary value, nil when unknown.
	State() any
	Attributes() map[string]any
}

// EntityState is a point-in-time rendering of an entity.
type EntityState struct {
	EntityDescription
	Available  bool           `json:"available"`
	State      any            `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func Snapshot(e Entity) EntityState {
	return EntityState{
		EntityDescription: e.Description(),
		Available:         e.Available(),
		State:             e.State(),
		Attributes:        e.Attributes(),
	}
}

// CollectEntities flattens the entities of all plugins.
func CollectEntities(plugins []Plugin) []Entity {
	var out []Entity
	for _, p := range plugins {
		out = append(out, p.Entities()...)
	}
	return out
}
