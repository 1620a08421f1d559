package hassmqtt

// DeviceModel groups discovered entities under one Home Assistant device.
type DeviceModel struct {
	Identifiers  []string `json:"identifiers,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// AvailabilityModel is one availability source. ValueTemplate must render
// to PayloadAvailable or PayloadNotAvailable.
type AvailabilityModel struct {
	Topic               string `json:"topic"`
	ValueTemplate       string `json:"value_template,omitempty"`
	PayloadAvailable    string `json:"payload_available,omitempty"`
	PayloadNotAvailable string `json:"payload_not_available,omitempty"`
}

// EntityModel carries the discovery fields shared by every component.
type EntityModel struct {
	Availability []AvailabilityModel `json:"availability,omitempty"`
	// AvailabilityMode is one of all, any or latest.
	AvailabilityMode       string       `json:"availability_mode,omitempty"`
	Device                 *DeviceModel `json:"device,omitempty"`
	DeviceClass            string       `json:"device_class,omitempty"`
	EnabledByDefault       *bool        `json:"enabled_by_default,omitempty"`
	Icon                   string       `json:"icon,omitempty"`
	JSONAttributesTemplate string       `json:"json_attributes_template,omitempty"`
	JSONAttributesTopic    string       `json:"json_attributes_topic,omitempty"`
	Name                   *string      `json:"name"`
	ObjectID               string       `json:"object_id,omitempty"`
	StateTopic             string       `json:"state_topic,omitempty"`
	UniqueID               string       `json:"unique_id,omitempty"`
	ValueTemplate          string       `json:"value_template,omitempty"`
}

type SensorModel struct {
	EntityModel

	StateClass        string `json:"state_class,omitempty"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
}

type BinarySensorModel struct {
	EntityModel

	PayloadOn  string `json:"payload_on,omitempty"`
	PayloadOff string `json:"payload_off,omitempty"`
}

// ClimateModel is the MQTT climate component. State topics share the
// device state document and are read through templates.
type ClimateModel struct {
	EntityModel

	ModeCommandTopic           string   `json:"mode_command_topic"`
	ModeStateTopic             string   `json:"mode_state_topic"`
	ModeStateTemplate          string   `json:"mode_state_template,omitempty"`
	Modes                      []string `json:"modes"`
	TemperatureCommandTopic    string   `json:"temperature_command_topic"`
	TemperatureStateTopic      string   `json:"temperature_state_topic"`
	TemperatureStateTemplate   string   `json:"temperature_state_template,omitempty"`
	CurrentTemperatureTopic    string   `json:"current_temperature_topic"`
	CurrentTemperatureTemplate string   `json:"current_temperature_template,omitempty"`
	ActionTopic                string   `json:"action_topic"`
	ActionTemplate             string   `json:"action_template,omitempty"`
	TemperatureUnit            string   `json:"temperature_unit,omitempty"`
	Precision                  float64  `json:"precision,omitempty"`
}
