// Package resource derives the Home Assistant entities exposed by the bridge
// from parsed schema rows and indexes them for the refresh and command paths.
//
// Each recognized schema row becomes one Resource: an Entity variant
// (Sensor, Climate or Switch) paired with its schema Entry. Entities share
// the Entity capability interface, so callers never switch on kind to find
// topics or convert a command payload.
//
// # Topics
//
// Every entity is namespaced by the device id and its object id, a slug of
// the display name:
//
//	dev123/setpoint/state   retained state
//	dev123/setpoint/set     command (climate and switch only)
//
// # Usage
//
//	entries, _ := schema.ParseFile("nbe_schema.csv")
//	reg, err := resource.NewRegistry(entries, dev, topics, log)
//	if err != nil {
//	    return err // *schema.Error
//	}
//	res, err := reg.FindByCommandTopic("dev123/setpoint/set")
//	value, err := res.ApplyIncomingValue([]byte("72"))
//
// # Thread Safety
//
// A Registry is immutable once built and may be shared freely.
package resource
