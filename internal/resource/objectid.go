package resource

import (
	"strconv"
	"strings"

	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/infrastructure/mqtt"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/schema"
)

const maxObjectIDLength = 64

// ObjectID derives the topic-safe identifier of an entity: the slug of its
// display name, or of its resource key when the name is empty.
//
//	"Boiler setpoint" -> "boiler_setpoint"
//	"misc.start"      -> "misc_start"
func ObjectID(entry schema.Entry) string {
	if id := slug(entry.Name); id != "" {
		return id
	}
	return slug(entry.ResourceKey)
}

// uniqueObjectID returns base if it is free, otherwise base with the entity
// kind appended, then with a counter after that. The bridge topic segment
// is never handed out.
//
//	"op_temp" (taken)  -> "op_temp_climate"
//	"bridge"           -> "bridge_sensor"
func uniqueObjectID(base string, kind schema.Kind, taken map[string]string) string {
	free := func(id string) bool {
		_, used := taken[id]
		return !used && id != mqtt.BridgeSegment
	}

	if base == "" {
		base = string(kind)
	}
	if free(base) {
		return base
	}

	withKind := withSuffix(base, "_"+string(kind))
	if free(withKind) {
		return withKind
	}
	for n := 2; ; n++ {
		if id := withSuffix(withKind, "_"+strconv.Itoa(n)); free(id) {
			return id
		}
	}
}

// withSuffix appends suffix, shortening id so the result stays within
// maxObjectIDLength.
func withSuffix(id, suffix string) string {
	if keep := maxObjectIDLength - len(suffix); len(id) > keep {
		id = strings.TrimRight(id[:keep], "_")
	}
	return id + suffix
}

func slug(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false

	for _, r := range strings.ToLower(s) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}

	out := b.String()
	if len(out) > maxObjectIDLength {
		out = strings.TrimRight(out[:maxObjectIDLength], "_")
	}
	return out
}
