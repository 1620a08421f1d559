package zenwifi

import "github.com/DanrwAU/zenwifi/internal/core"

type sensorSpec struct {
	key  string
	name string
	icon string
}

var sensorSpecs = []sensorSpec{
	{key: KeyCurrentTemperature, name: "Current Temperature", icon: "mdi:thermometer"},
	{key: KeyHeatingSetpoint, name: "Heating Setpoint", icon: "mdi:thermometer-chevron-up"},
	{key: KeyCoolingSetpoint, name: "Cooling Setpoint", icon: "mdi:thermometer-chevron-down"},
}

// Sensor exposes one temperature reading. Sensors are disabled by default.
type Sensor struct {
	entityBase
	spec sensorSpec
}

func newSensor(c *Coordinator, t Thermostat, spec sensorSpec) *Sensor {
	return &Sensor{entityBase: newEntityBase(c, t), spec: spec}
}

func (s *Sensor) Description() core.EntityDescription {
	desc := s.describe(s.spec.key)
	desc.UniqueID = string(s.deviceID) + "_" + s.spec.key
	desc.Platform = core.PlatformSensor
	desc.Name = s.spec.name
	desc.Icon = s.spec.icon
	desc.DeviceClass = "temperature"
	desc.StateClass = "measurement"
	desc.Unit = temperatureUnit
	return desc
}

func (s *Sensor) Available() bool {
	t := s.thermostat()
	return s.coordinator.LastUpdateSuccess() && t.Online() && t.Has(s.spec.key)
}

func (s *Sensor) Value() *float64 {
	return s.thermostat().Temperature(s.spec.key)
}

func (s *Sensor) State() any {
	if v := s.Value(); v != nil {
		return *v
	}
	return nil
}

func (s *Sensor) Attributes() map[string]any {
	return nil
}
