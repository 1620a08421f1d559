package zenwifi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// StateUnavailable is the climate state while the entity is unavailable.
const StateUnavailable = "unavailable"

// ConditionType names a device condition on a climate entity.
type ConditionType string

const (
	ConditionIsOff                   ConditionType = "is_off"
	ConditionIsHeating               ConditionType = "is_heating"
	ConditionIsCooling               ConditionType = "is_cooling"
	ConditionCurrentTemperatureAbove ConditionType = "current_temperature_above"
	ConditionCurrentTemperatureBelow ConditionType = "current_temperature_below"
)

var conditionTypes = []ConditionType{
	ConditionIsOff,
	ConditionIsHeating,
	ConditionIsCooling,
	ConditionCurrentTemperatureAbove,
	ConditionCurrentTemperatureBelow,
}

// ConditionTypes lists the supported condition types.
func ConditionTypes() []ConditionType {
	return slices.Clone(conditionTypes)
}

// TriggerType names a device trigger on a climate entity.
type TriggerType string

const (
	TriggerTurnedOff               TriggerType = "turned_off"
	TriggerTurnedOn                TriggerType = "turned_on"
	TriggerChangedToHeat           TriggerType = "changed_to_heat"
	TriggerChangedToCool           TriggerType = "changed_to_cool"
	TriggerCurrentTemperatureAbove TriggerType = "current_temperature_above"
	TriggerCurrentTemperatureBelow TriggerType = "current_temperature_below"
)

var (
	stateTriggerTypes = []TriggerType{
		TriggerTurnedOff,
		TriggerTurnedOn,
		TriggerChangedToHeat,
		TriggerChangedToCool,
	}
	temperatureTriggerTypes = []TriggerType{
		TriggerCurrentTemperatureAbove,
		TriggerCurrentTemperatureBelow,
	}
)

// TriggerTypes lists the supported trigger types.
func TriggerTypes() []TriggerType {
	return append(slices.Clone(stateTriggerTypes), temperatureTriggerTypes...)
}

// ClimateState is the view automation evaluates: the climate state string
// and its current temperature attribute.
type ClimateState struct {
	State              string
	CurrentTemperature *float64
}

// StateOf reads the automation view of a climate entity.
func StateOf(e *Climate) ClimateState {
	if !e.Available() {
		return ClimateState{State: StateUnavailable}
	}
	return ClimateState{
		State:              string(e.HVACMode()),
		CurrentTemperature: e.CurrentTemperature(),
	}
}

// Condition tests the current state of a climate entity.
type Condition struct {
	Type  ConditionType `json:"type"`
	Above *float64      `json:"above,omitempty"`
	Below *float64      `json:"below,omitempty"`
}

func (c Condition) Validate() error {
	if !slices.Contains(conditionTypes, c.Type) {
		return fmt.Errorf("unsupported condition type %q", c.Type)
	}
	if c.Type == ConditionCurrentTemperatureAbove && c.Above == nil {
		return fmt.Errorf("condition %s requires above", c.Type)
	}
	if c.Type == ConditionCurrentTemperatureBelow && c.Below == nil {
		return fmt.Errorf("condition %s requires below", c.Type)
	}
	return nil
}

func (c Condition) Evaluate(s ClimateState) bool {
	switch c.Type {
	case ConditionIsOff:
		return s.State == string(HVACOff)
	case ConditionIsHeating:
		return s.State == string(HVACHeat)
	case ConditionIsCooling:
		return s.State == string(HVACCool)
	case ConditionCurrentTemperatureAbove, ConditionCurrentTemperatureBelow:
		return inRange(s.CurrentTemperature, c.Above, c.Below)
	default:
		return false
	}
}

// inRange reports value > above and value < below for the bounds given.
// A missing value never matches.
func inRange(value, above, below *float64) bool {
	if value == nil {
		return false
	}
	if above != nil && !(*value > *above) {
		return false
	}
	if below != nil && !(*value < *below) {
		return false
	}
	return true
}

// Trigger fires an Event when a climate entity changes.
type Trigger struct {
	Name     string
	DeviceID DeviceID
	Type     TriggerType
	Above    *float64
	Below    *float64
	// For requires the new state to hold before firing.
	For time.Duration
}

func (t Trigger) Validate() error {
	switch {
	case slices.Contains(stateTriggerTypes, t.Type):
	case t.Type == TriggerCurrentTemperatureAbove && t.Above == nil:
		return fmt.Errorf("trigger %s requires above", t.Type)
	case t.Type == TriggerCurrentTemperatureBelow && t.Below == nil:
		return fmt.Errorf("trigger %s requires below", t.Type)
	case slices.Contains(temperatureTriggerTypes, t.Type):
	default:
		return fmt.Errorf("unsupported trigger type %q", t.Type)
	}
	if t.For < 0 {
		return fmt.Errorf("trigger for must not be negative")
	}
	return nil
}

func (t Trigger) numeric() bool {
	return slices.Contains(temperatureTriggerTypes, t.Type)
}

// matchesTransition applies the state trigger rules to one state change.
func (t Trigger) matchesTransition(from, to string) bool {
	switch t.Type {
	case TriggerTurnedOff:
		return to == string(HVACOff)
	case TriggerTurnedOn:
		return from == string(HVACOff)
	case TriggerChangedToHeat:
		return to == string(HVACHeat)
	case TriggerChangedToCool:
		return to == string(HVACCool)
	default:
		return false
	}
}

// Event is a fired trigger.
type Event struct {
	Trigger     string      `json:"trigger"`
	Type        TriggerType `json:"type"`
	DeviceID    DeviceID    `json:"device_id"`
	From        string      `json:"from,omitempty"`
	To          string      `json:"to,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
	Time        time.Time   `json:"time"`
}

type stopper interface {
	Stop() bool
}

type armedTrigger struct {
	Trigger
	climate *Climate

	seen     bool
	last     ClimateState
	matching bool

	pending    stopper
	generation int
}

// TriggerEngine evaluates triggers against every coordinator update.
type TriggerEngine struct {
	logger    *zap.Logger
	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper

	mu       sync.Mutex
	triggers []*armedTrigger
	handlers []func(Event)
}

// NewTriggerEngine arms triggers against the given climate entities.
func NewTriggerEngine(climates []*Climate, triggers []Trigger, logger *zap.Logger) (*TriggerEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	byID := make(map[DeviceID]*Climate, len(climates))
	for _, c := range climates {
		byID[c.DeviceID()] = c
	}

	engine := &TriggerEngine{
		logger: logger.Named("automation"),
		now:    time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
	for i, t := range triggers {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("trigger %d: %w", i, err)
		}
		climate, ok := byID[t.DeviceID]
		if !ok {
			return nil, fmt.Errorf("trigger %d: %w: %s", i, ErrUnknownThermostat, t.DeviceID)
		}
		if t.Name == "" {
			t.Name = fmt.Sprintf("%s_%s", t.DeviceID, t.Type)
		}
		engine.triggers = append(engine.triggers, &armedTrigger{Trigger: t, climate: climate})
	}
	return engine, nil
}

// OnEvent registers a handler for fired triggers.
func (e *TriggerEngine) OnEvent(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, fn)
}

// Run evaluates on every update until ctx is done or updates closes.
func (e *TriggerEngine) Run(ctx context.Context, updates <-chan Update) {
	defer e.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			e.Evaluate()
		}
	}
}

// Evaluate compares each trigger's entity with its last seen state.
func (e *TriggerEngine) Evaluate() {
	var fired []Event

	e.mu.Lock()
	for _, t := range e.triggers {
		current := StateOf(t.climate)
		if event, ok := e.step(t, current); ok {
			fired = append(fired, event)
		}
	}
	handlers := slices.Clone(e.handlers)
	e.mu.Unlock()

	for _, event := range fired {
		e.emit(handlers, event)
	}
}

// step advances one trigger and returns an event that fires immediately.
// Delayed firings are scheduled instead.
func (e *TriggerEngine) step(t *armedTrigger, current ClimateState) (Event, bool) {
	if !t.seen {
		t.seen = true
		t.last = current
		t.matching = inRange(current.CurrentTemperature, t.Above, t.Below)
		return Event{}, false
	}

	if t.numeric() {
		match := inRange(current.CurrentTemperature, t.Above, t.Below)
		crossed := match && !t.matching
		if !match {
			e.cancel(t)
		}
		t.matching = match
		t.last = current
		if !crossed {
			return Event{}, false
		}
		return e.arm(t, Event{Temperature: current.CurrentTemperature})
	}

	previous := t.last
	t.last = current
	if previous.State == current.State {
		return Event{}, false
	}
	e.cancel(t)
	if !t.matchesTransition(previous.State, current.State) {
		return Event{}, false
	}
	return e.arm(t, Event{From: previous.State, To: current.State})
}

// arm fires now or schedules the event after the trigger's For duration.
// Caller holds e.mu.
func (e *TriggerEngine) arm(t *armedTrigger, event Event) (Event, bool) {
	event.Trigger = t.Name
	event.Type = t.Type
	event.DeviceID = t.DeviceID
	if t.For <= 0 {
		event.Time = e.now()
		return event, true
	}

	t.generation++
	generation := t.generation
	t.pending = e.afterFunc(t.For, func() {
		e.mu.Lock()
		if t.generation != generation || t.pending == nil {
			e.mu.Unlock()
			return
		}
		t.pending = nil
		handlers := slices.Clone(e.handlers)
		e.mu.Unlock()

		event.Time = e.now()
		e.emit(handlers, event)
	})
	return Event{}, false
}

// cancel drops a pending delayed firing. Caller holds e.mu.
func (e *TriggerEngine) cancel(t *armedTrigger) {
	if t.pending == nil {
		return
	}
	t.pending.Stop()
	t.pending = nil
	t.generation++
}

func (e *TriggerEngine) emit(handlers []func(Event), event Event) {
	e.logger.Info("trigger fired",
		zap.String("trigger", event.Trigger),
		zap.String("type", string(event.Type)),
		zap.String("device_id", string(event.DeviceID)),
	)
	for _, fn := range handlers {
		fn(event)
	}
}

// Stop cancels every pending delayed firing.
func (e *TriggerEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.triggers {
		e.cancel(t)
	}
}
