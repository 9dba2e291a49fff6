package resource

import (
	"fmt"
	"strings"

	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/infrastructure/mqtt"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/schema"
)

// Logger is the subset of logging used by the registry.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Resource pairs an entity with the schema row it was derived from.
type Resource struct {
	Entity
	Entry schema.Entry
}

// Registry holds every resource derived from the schema. It is built once
// and never mutated, so concurrent readers need no locking.
type Registry struct {
	device    Device
	topics    mqtt.Topics
	resources []*Resource
	byKey     map[string]*Resource
	byCommand map[string]*Resource
}

// NewRegistry derives entities from parsed schema entries.
//
// Entries with an unrecognized (method, kind) pair are dropped with a
// warning. Object IDs are unique across the registry: when two entities
// slug to the same ID, or an entity slugs to the bridge topic segment, the
// later one gets its kind appended (and a counter if that is taken too).
func NewRegistry(entries []schema.Entry, device Device, topics mqtt.Topics, log Logger) (*Registry, error) {
	if log == nil {
		log = noopLogger{}
	}

	r := &Registry{
		device:    device,
		topics:    topics,
		byKey:     make(map[string]*Resource),
		byCommand: make(map[string]*Resource),
	}
	seenObjectIDs := make(map[string]string)

	for _, entry := range entries {
		if !entry.Recognized() {
			log.Warn("dropping schema row with unsupported method/kind",
				"line", entry.Line,
				"resource_key", entry.ResourceKey,
				"method", entry.Method,
				"kind", entry.Kind,
			)
			continue
		}

		base := ObjectID(entry)
		objectID := uniqueObjectID(base, entry.Kind, seenObjectIDs)
		if objectID != base {
			log.Warn("object id adjusted to keep entity topics unique",
				"line", entry.Line,
				"resource_key", entry.ResourceKey,
				"wanted", base,
				"object_id", objectID,
			)
		}
		seenObjectIDs[objectID] = entry.ResourceKey

		res := &Resource{Entity: newEntity(entry, objectID, &r.device, topics), Entry: entry}
		r.resources = append(r.resources, res)

		// The same key may appear once per method; lookups by key return
		// the first registered.
		if _, exists := r.byKey[entry.ResourceKey]; !exists {
			r.byKey[entry.ResourceKey] = res
		}
		if cmd := res.Topics().Command; cmd != "" {
			r.byCommand[cmd] = res
		}
	}

	r.resolveCurrentTemps(log)
	return r, nil
}

// LoadFile parses a schema file and builds the registry from it.
func LoadFile(path string, device Device, topics mqtt.Topics, log Logger) (*Registry, error) {
	entries, err := schema.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return NewRegistry(entries, device, topics, log)
}

func newEntity(entry schema.Entry, objectID string, device *Device, topics mqtt.Topics) Entity {
	b := base{
		device:   device,
		topics:   topics,
		key:      entry.ResourceKey,
		objectID: objectID,
		name:     entry.Name,
		icon:     entry.Icon,
	}

	switch entry.Kind {
	case schema.KindClimate:
		return &Climate{
			base:           b,
			MinTemp:        entry.MinTemp,
			MaxTemp:        entry.MaxTemp,
			Unit:           entry.Unit,
			currentTempRef: entry.CurrentTemp,
		}
	case schema.KindSwitch:
		return &Switch{base: b}
	default:
		return &Sensor{
			base:        b,
			StateClass:  entry.StateClass,
			DeviceClass: entry.DeviceClass,
			Unit:        entry.Unit,
		}
	}
}

// resolveCurrentTemps points each climate at the state topic of the sensor
// named in its schema row. A reference containing "/" is taken as a
// literal topic.
func (r *Registry) resolveCurrentTemps(log Logger) {
	for _, res := range r.resources {
		c, ok := res.Entity.(*Climate)
		if !ok || c.currentTempRef == "" {
			continue
		}
		if src := r.findSensor(c.currentTempRef); src != nil {
			c.CurrentTempTopic = src.Topics().State
			continue
		}
		if strings.Contains(c.currentTempRef, "/") {
			c.CurrentTempTopic = c.currentTempRef
			continue
		}
		log.Warn("climate current temperature source not found",
			"resource_key", c.key,
			"reference", c.currentTempRef,
		)
	}
}

func (r *Registry) findSensor(key string) *Resource {
	for _, res := range r.resources {
		if res.Kind() == schema.KindSensor && res.ResourceKey() == key {
			return res
		}
	}
	return nil
}

// Device returns the device all entities belong to.
func (r *Registry) Device() Device {
	return r.device
}

// Topics returns the topic builder entities were derived with.
func (r *Registry) Topics() mqtt.Topics {
	return r.topics
}

// All returns resources in registration order. The slice is a copy.
func (r *Registry) All() []*Resource {
	out := make([]*Resource, len(r.resources))
	copy(out, r.resources)
	return out
}

// Len returns the number of registered resources.
func (r *Registry) Len() int {
	return len(r.resources)
}

// Polled returns the resources the refresh cycle publishes, in
// registration order.
func (r *Registry) Polled() []*Resource {
	var out []*Resource
	for _, res := range r.resources {
		if res.Polled() {
			out = append(out, res)
		}
	}
	return out
}

// FindByResourceKey returns the first resource registered for key.
func (r *Registry) FindByResourceKey(key string) (*Resource, error) {
	res, ok := r.byKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: resource key %q", ErrNotFound, key)
	}
	return res, nil
}

// FindByCommandTopic returns the resource whose command topic is topic.
func (r *Registry) FindByCommandTopic(topic string) (*Resource, error) {
	res, ok := r.byCommand[topic]
	if !ok {
		return nil, fmt.Errorf("%w: command topic %q", ErrNotFound, topic)
	}
	return res, nil
}
