package zenwifi

import (
	"context"
	"fmt"

	"github.com/DanrwAU/zenwifi/internal/core"
)

// Climate is the thermostat control entity.
type Climate struct {
	entityBase
	commands Commander
}

func NewClimate(c *Coordinator, commands Commander, t Thermostat) *Climate {
	return &Climate{entityBase: newEntityBase(c, t), commands: commands}
}

func (e *Climate) Description() core.EntityDescription {
	desc := e.describe(climateEntityKey)
	desc.UniqueID = string(e.deviceID) + "_climate"
	desc.Platform = core.PlatformClimate
	desc.Unit = temperatureUnit
	desc.EnabledByDefault = true
	return desc
}

// Available requires a successful last poll and an online device.
func (e *Climate) Available() bool {
	return e.coordinator.LastUpdateSuccess() && e.thermostat().Online()
}

func (e *Climate) State() any {
	return string(e.HVACMode())
}

func (e *Climate) Attributes() map[string]any {
	t := e.thermostat()
	modes := e.HVACModes()
	names := make([]string, 0, len(modes))
	for _, m := range modes {
		names = append(names, string(m))
	}
	return map[string]any{
		"hvac_modes":          names,
		"hvac_action":         string(t.HVACAction()),
		"current_temperature": t.CurrentTemperature(),
		"temperature":         t.TargetTemperature(),
		"zen_mode":            t.Mode().String(),
	}
}

func (e *Climate) CurrentTemperature() *float64 {
	return e.thermostat().CurrentTemperature()
}

func (e *Climate) TargetTemperature() *float64 {
	return e.thermostat().TargetTemperature()
}

func (e *Climate) HVACMode() HVACMode {
	return e.thermostat().HVACMode()
}

// HVACModes lists the modes a caller may select.
func (e *Climate) HVACModes() []HVACMode {
	return []HVACMode{HVACOff, HVACHeat, HVACCool}
}

func (e *Climate) HVACAction() HVACAction {
	return e.thermostat().HVACAction()
}

// SetTemperature changes the setpoint of the active heat or cool mode.
func (e *Climate) SetTemperature(ctx context.Context, temperature float64) error {
	var mode CommandMode
	switch e.HVACMode() {
	case HVACHeat:
		mode = CommandHeat
	case HVACCool:
		mode = CommandCool
	default:
		return fmt.Errorf("%w (mode %s)", ErrTemperatureUnsupported, e.HVACMode())
	}
	if err := e.commands.SetMode(ctx, e.deviceID, mode, &temperature); err != nil {
		return err
	}
	e.coordinator.RequestRefresh()
	return nil
}

// SetHVACMode switches mode. Heat and cool resend the matching current
// setpoint.
func (e *Climate) SetHVACMode(ctx context.Context, mode HVACMode) error {
	var (
		command  CommandMode
		setpoint *float64
	)
	t := e.thermostat()
	switch mode {
	case HVACOff:
		command = CommandOff
	case HVACHeat:
		command = CommandHeat
		setpoint = t.Temperature(KeyHeatingSetpoint)
	case HVACCool:
		command = CommandCool
		setpoint = t.Temperature(KeyCoolingSetpoint)
	case HVACHeatCool:
		// The API has no auto endpoint; SetMode rejects it.
		command = CommandMode(ModeAuto.String())
	default:
		return fmt.Errorf("%w: hvac mode %q", ErrUnsupportedMode, mode)
	}
	if err := e.commands.SetMode(ctx, e.deviceID, command, setpoint); err != nil {
		return err
	}
	e.coordinator.RequestRefresh()
	return nil
}

func (e *Climate) TurnOn(ctx context.Context) error {
	return e.SetHVACMode(ctx, HVACHeat)
}

func (e *Climate) TurnOff(ctx context.Context) error {
	return e.SetHVACMode(ctx, HVACOff)
}
