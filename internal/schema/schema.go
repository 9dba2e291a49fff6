package schema

// Method is the access direction of a resource on the device.
type Method string

// Supported methods.
const (
	MethodGet Method = "get"
	MethodSet Method = "set"
)

// Kind is the automation-bus entity kind a resource is exposed as.
type Kind string

// Supported kinds.
const (
	KindSensor  Kind = "sensor"
	KindClimate Kind = "climate"
	KindSwitch  Kind = "switch"
)

// Column positions in a schema row.
const (
	colResource = iota
	colMethod
	colKind
	colName
	colIcon
	colStateClassOrCurrentTemp
	colDeviceClassOrMaxTemp
	colUnit

	// ColumnCount is the exact number of columns every data row must have.
	ColumnCount
)

// Default climate bounds, used when the schema leaves them empty.
const (
	DefaultClimateMinTemp = 0
	DefaultClimateMaxTemp = 85
)

// Entry is one parsed schema row. Entries are immutable after Parse.
//
// Columns 5 and 6 are overloaded by kind: a sensor row carries its state
// class and device class there, a climate row its current-temperature
// source and maximum temperature.
type Entry struct {
	ResourceKey string
	Method      Method
	Kind        Kind
	Name        string
	Icon        string

	// Sensor metadata.
	StateClass  string
	DeviceClass string

	// Climate metadata. CurrentTemp is either a resource key of a sensor
	// or a literal MQTT topic.
	CurrentTemp string
	MinTemp     float64
	MaxTemp     float64

	// Unit is the unit of measurement (sensor) or temperature unit (climate).
	Unit string

	// Line is the 1-based line number in the schema source.
	Line int
}

// Recognized reports whether the (method, kind) pair maps to an entity.
// Only get/sensor, set/climate and set/switch are recognized.
func (e Entry) Recognized() bool {
	switch {
	case e.Method == MethodGet && e.Kind == KindSensor:
		return true
	case e.Method == MethodSet && e.Kind == KindClimate:
		return true
	case e.Method == MethodSet && e.Kind == KindSwitch:
		return true
	default:
		return false
	}
}
