package resource

// Discovery payload models. Field names follow the Home Assistant MQTT
// discovery documentation (long form, no abbreviations).

type entityModel struct {
	Name              string       `json:"name"`
	UniqueID          string       `json:"unique_id"`
	ObjectID          string       `json:"object_id"`
	Icon              string       `json:"icon,omitempty"`
	Device            *deviceModel `json:"device"`
	AvailabilityTopic string       `json:"availability_topic"`
	PayloadAvailable  string       `json:"payload_available"`
	PayloadNotAvail   string       `json:"payload_not_available"`
}

type sensorModel struct {
	entityModel
	StateTopic        string `json:"state_topic"`
	StateClass        string `json:"state_class,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
}

type climateModel struct {
	entityModel
	TemperatureCommandTopic string   `json:"temperature_command_topic"`
	TemperatureStateTopic   string   `json:"temperature_state_topic"`
	CurrentTemperatureTopic string   `json:"current_temperature_topic,omitempty"`
	MinTemp                 float64  `json:"min_temp"`
	MaxTemp                 float64  `json:"max_temp"`
	TemperatureUnit         string   `json:"temperature_unit,omitempty"`
	Modes                   []string `json:"modes"`
	ModeStateTopic          string   `json:"mode_state_topic"`
}

type switchModel struct {
	entityModel
	CommandTopic string `json:"command_topic"`
	StateTopic   string `json:"state_topic"`
	PayloadOn    string `json:"payload_on"`
	PayloadOff   string `json:"payload_off"`
}
