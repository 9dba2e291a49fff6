package resource

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/infrastructure/mqtt"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/schema"
)

// Switch payloads exchanged with Home Assistant and their device values.
const (
	SwitchPayloadOn  = "ON"
	SwitchPayloadOff = "OFF"

	switchDeviceOn  = "1"
	switchDeviceOff = "0"
)

// EntityTopics holds the bus addresses of one entity. Command is empty for
// read-only entities.
type EntityTopics struct {
	State   string
	Command string
}

// Entity is the capability set shared by every entity variant.
type Entity interface {
	Kind() schema.Kind
	ResourceKey() string
	ObjectID() string
	Name() string
	Topics() EntityTopics

	// Polled reports whether the refresh cycle publishes device values
	// for this entity.
	Polled() bool

	// ApplyIncomingValue converts a command payload into the value written
	// to the device.
	ApplyIncomingValue(payload []byte) (string, error)

	// Discovery returns the discovery topic and JSON config.
	Discovery() (topic string, payload any)
}

// base carries the fields common to all variants.
type base struct {
	device   *Device
	topics   mqtt.Topics
	key      string
	objectID string
	name     string
	icon     string
}

func (b *base) ResourceKey() string { return b.key }
func (b *base) ObjectID() string    { return b.objectID }
func (b *base) Name() string        { return b.name }

func (b *base) uniqueID() string {
	return b.device.ID + "_" + b.objectID
}

func (b *base) entityModel() entityModel {
	return entityModel{
		Name:              b.name,
		UniqueID:          b.uniqueID(),
		ObjectID:          b.objectID,
		Icon:              b.icon,
		Device:            b.device.model(),
		AvailabilityTopic: b.topics.Availability(),
		PayloadAvailable:  mqtt.PayloadOnline,
		PayloadNotAvail:   mqtt.PayloadOffline,
	}
}

// =============================================================================
// Sensor
// =============================================================================

// Sensor is a read-only entity with one state topic.
type Sensor struct {
	base
	StateClass  string
	DeviceClass string
	Unit        string
}

func (s *Sensor) Kind() schema.Kind { return schema.KindSensor }
func (s *Sensor) Polled() bool      { return true }

func (s *Sensor) Topics() EntityTopics {
	return EntityTopics{State: s.topics.EntityState(s.objectID)}
}

func (s *Sensor) ApplyIncomingValue([]byte) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrReadOnly, s.key)
}

func (s *Sensor) Discovery() (string, any) {
	cfg := sensorModel{
		entityModel:       s.entityModel(),
		StateTopic:        s.Topics().State,
		StateClass:        s.StateClass,
		DeviceClass:       s.DeviceClass,
		UnitOfMeasurement: s.Unit,
	}
	return s.topics.Discovery(string(schema.KindSensor), s.objectID), cfg
}

// =============================================================================
// Climate
// =============================================================================

// Climate is a writable temperature setpoint with bounds.
type Climate struct {
	base

	// CurrentTempTopic is the resolved topic Home Assistant reads the
	// measured temperature from. May be empty.
	CurrentTempTopic string

	MinTemp float64
	MaxTemp float64
	Unit    string

	// currentTempRef is the raw schema reference, resolved by the registry.
	currentTempRef string
}

func (c *Climate) Kind() schema.Kind { return schema.KindClimate }
func (c *Climate) Polled() bool      { return true }

func (c *Climate) Topics() EntityTopics {
	return EntityTopics{
		State:   c.topics.EntityState(c.objectID),
		Command: c.topics.EntityCommand(c.objectID),
	}
}

// ApplyIncomingValue accepts a decimal temperature within [MinTemp, MaxTemp].
// Integral values are written without a fraction ("72.0" becomes "72").
func (c *Climate) ApplyIncomingValue(payload []byte) (string, error) {
	raw := strings.TrimSpace(string(payload))
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return "", fmt.Errorf("%w: %q is not a temperature", ErrInvalidValue, raw)
	}
	if v < c.MinTemp || v > c.MaxTemp {
		return "", fmt.Errorf("%w: %v outside [%v, %v]", ErrInvalidValue, v, c.MinTemp, c.MaxTemp)
	}
	return strconv.FormatFloat(v, 'f', -1, 64), nil
}

func (c *Climate) Discovery() (string, any) {
	t := c.Topics()
	cfg := climateModel{
		entityModel:             c.entityModel(),
		TemperatureCommandTopic: t.Command,
		TemperatureStateTopic:   t.State,
		CurrentTemperatureTopic: c.CurrentTempTopic,
		MinTemp:                 c.MinTemp,
		MaxTemp:                 c.MaxTemp,
		TemperatureUnit:         c.Unit,
		Modes:                   []string{mqtt.PayloadAuto},
		ModeStateTopic:          c.topics.StaticAutoState(),
	}
	return c.topics.Discovery(string(schema.KindClimate), c.objectID), cfg
}

// =============================================================================
// Switch
// =============================================================================

// Switch is a writable on/off entity. Its state is only known from
// confirmed commands, so it is not polled.
type Switch struct {
	base
}

func (s *Switch) Kind() schema.Kind { return schema.KindSwitch }
func (s *Switch) Polled() bool      { return false }

func (s *Switch) Topics() EntityTopics {
	return EntityTopics{
		State:   s.topics.EntityState(s.objectID),
		Command: s.topics.EntityCommand(s.objectID),
	}
}

// ApplyIncomingValue maps ON/OFF (or 1/0) to the device values 1/0.
func (s *Switch) ApplyIncomingValue(payload []byte) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case SwitchPayloadOn, switchDeviceOn:
		return switchDeviceOn, nil
	case SwitchPayloadOff, switchDeviceOff:
		return switchDeviceOff, nil
	default:
		return "", fmt.Errorf("%w: switch payload %q", ErrInvalidValue, payload)
	}
}

func (s *Switch) Discovery() (string, any) {
	t := s.Topics()
	cfg := switchModel{
		entityModel:  s.entityModel(),
		CommandTopic: t.Command,
		StateTopic:   t.State,
		PayloadOn:    SwitchPayloadOn,
		PayloadOff:   SwitchPayloadOff,
	}
	return s.topics.Discovery(string(schema.KindSwitch), s.objectID), cfg
}
