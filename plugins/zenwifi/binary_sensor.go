package zenwifi

import "github.com/DanrwAU/zenwifi/internal/core"

type binarySensorSpec struct {
	key         string
	name        string
	deviceClass string
}

var binarySensorSpecs = []binarySensorSpec{
	{key: KeyIsOnline, name: "Online", deviceClass: "connectivity"},
	{key: KeyIsOnCWire, name: "C-Wire Connected", deviceClass: "plug"},
}

// BinarySensor exposes a boolean status flag.
type BinarySensor struct {
	entityBase
	spec binarySensorSpec
}

func newBinarySensor(c *Coordinator, t Thermostat, spec binarySensorSpec) *BinarySensor {
	return &BinarySensor{entityBase: newEntityBase(c, t), spec: spec}
}

func (b *BinarySensor) Description() core.EntityDescription {
	desc := b.describe(b.spec.key)
	desc.UniqueID = string(b.deviceID) + "_" + b.spec.key
	desc.Platform = core.PlatformBinarySensor
	desc.Name = b.spec.name
	desc.DeviceClass = b.spec.deviceClass
	desc.EnabledByDefault = true
	return desc
}

// Available does not depend on the device being online; the online sensor
// must report offline devices.
func (b *BinarySensor) Available() bool {
	return b.coordinator.LastUpdateSuccess() && b.thermostat().Has(b.spec.key)
}

func (b *BinarySensor) IsOn() bool {
	return b.thermostat().Flag(b.spec.key)
}

func (b *BinarySensor) State() any {
	return b.IsOn()
}

func (b *BinarySensor) Attributes() map[string]any {
	return nil
}
