package mqtt

import "fmt"

// Availability and mode payloads understood by Home Assistant.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"

	// PayloadAuto and PayloadOff are published on the static mode topic that
	// climate entities advertise as their mode_state_topic.
	PayloadAuto = "auto"
	PayloadOff  = "off"
)

// DefaultDiscoveryPrefix is Home Assistant's default discovery prefix.
const DefaultDiscoveryPrefix = "homeassistant"

// BridgeSegment is the topic level under the device id that holds the
// bridge's own topics. No entity may use it as its object id.
const BridgeSegment = "bridge"

// Topics provides builders for every topic the bridge publishes or
// subscribes to. All entity topics are namespaced by the device id so that
// two controllers on one broker never collide.
//
//	topics := mqtt.NewTopics("8caab44d999f-12345", "homeassistant")
//	topics.EntityState("boiler_temperature")
//	// Returns: "8caab44d999f-12345/boiler_temperature/state"
type Topics struct {
	DeviceID        string
	DiscoveryPrefix string
}

// NewTopics returns a Topics builder. An empty prefix selects
// DefaultDiscoveryPrefix.
func NewTopics(deviceID, discoveryPrefix string) Topics {
	if discoveryPrefix == "" {
		discoveryPrefix = DefaultDiscoveryPrefix
	}
	return Topics{DeviceID: deviceID, DiscoveryPrefix: discoveryPrefix}
}

// =============================================================================
// Bridge Topics
// =============================================================================

// Availability returns the retained online/offline topic, also used as LWT.
//
// Example: 8caab44d999f-12345/bridge/state
func (t Topics) Availability() string {
	return fmt.Sprintf("%s/%s/state", t.DeviceID, BridgeSegment)
}

// StaticAutoState returns the constant climate mode topic.
//
// Example: 8caab44d999f-12345/bridge/static_auto_state
func (t Topics) StaticAutoState() string {
	return fmt.Sprintf("%s/%s/static_auto_state", t.DeviceID, BridgeSegment)
}

// Health returns the bridge health report topic.
//
// Example: 8caab44d999f-12345/bridge/health
func (t Topics) Health() string {
	return fmt.Sprintf("%s/%s/health", t.DeviceID, BridgeSegment)
}

// =============================================================================
// Entity Topics
// =============================================================================

// EntityState returns the retained state topic of one entity.
//
// Example: 8caab44d999f-12345/boiler_temperature/state
func (t Topics) EntityState(objectID string) string {
	return fmt.Sprintf("%s/%s/state", t.DeviceID, objectID)
}

// EntityCommand returns the command topic of a writable entity.
//
// Example: 8caab44d999f-12345/boiler_setpoint/set
func (t Topics) EntityCommand(objectID string) string {
	return fmt.Sprintf("%s/%s/set", t.DeviceID, objectID)
}

// Discovery returns the Home Assistant discovery config topic.
//
// Example: homeassistant/climate/8caab44d999f-12345/boiler_setpoint/config
func (t Topics) Discovery(component, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", t.DiscoveryPrefix, component, t.DeviceID, objectID)
}

// AllEntityCommands returns a pattern matching every command topic of the device.
//
// Pattern: 8caab44d999f-12345/+/set
func (t Topics) AllEntityCommands() string {
	return fmt.Sprintf("%s/+/set", t.DeviceID)
}
