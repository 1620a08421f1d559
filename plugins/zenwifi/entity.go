package zenwifi

import (
	"context"

	"github.com/DanrwAU/zenwifi/internal/core"
)

const (
	manufacturer     = "Zen Ecosystems"
	model            = "Zen Thermostat"
	temperatureUnit  = "°C"
	climateEntityKey = "climate"
)

// Commander issues mode commands. *Client implements it.
type Commander interface {
	SetMode(ctx context.Context, id DeviceID, mode CommandMode, setpoint *float64) error
}

// entityBase binds an entity to one thermostat in the coordinator cache.
type entityBase struct {
	coordinator *Coordinator
	deviceID    DeviceID
	device      core.DeviceInfo
}

func newEntityBase(c *Coordinator, t Thermostat) entityBase {
	return entityBase{
		coordinator: c,
		deviceID:    t.ID(),
		device: core.DeviceInfo{
			Identifiers:  [][2]string{{PluginID, string(t.ID())}},
			Name:         t.DisplayName(),
			Manufacturer: manufacturer,
			Model:        model,
		},
	}
}

// thermostat returns the cached thermostat, or an empty one when the device
// dropped off the account.
func (b entityBase) thermostat() Thermostat {
	t, ok := b.coordinator.Thermostat(b.deviceID)
	if !ok {
		return Thermostat{Device: Device{ID: b.deviceID}}
	}
	return t
}

func (b entityBase) describe(key string) core.EntityDescription {
	return core.EntityDescription{
		DeviceID: string(b.deviceID),
		Key:      key,
		Device:   b.device,
	}
}

// DeviceID returns the thermostat the entity belongs to.
func (b entityBase) DeviceID() DeviceID {
	return b.deviceID
}

// NewEntities builds the entities for every thermostat in the current
// snapshot. Sensors are created only for keys the device reported.
func NewEntities(c *Coordinator, commands Commander) []core.Entity {
	var out []core.Entity
	for _, t := range c.Snapshot() {
		out = append(out, NewClimate(c, commands, t))
		for _, spec := range sensorSpecs {
			if t.Has(spec.key) {
				out = append(out, newSensor(c, t, spec))
			}
		}
		for _, spec := range binarySensorSpecs {
			if t.Has(spec.key) {
				out = append(out, newBinarySensor(c, t, spec))
			}
		}
	}
	return out
}
