package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	measurementResource = "nbe_resource"
	measurementBridge   = "nbe_bridge"
)

// WriteResourceValue records one numeric resource value observed during a
// refresh. The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteResourceValue("8caab44d999f-12345", "boiler.temp", "sensor", 65.5)
func (c *Client) WriteResourceValue(deviceID, resourceKey, kind string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		measurementResource,
		map[string]string{
			"device_id":    deviceID,
			"resource_key": resourceKey,
			"kind":         kind,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteBridgeCounters records the bridge's cumulative counters.
func (c *Client) WriteBridgeCounters(deviceID string, counters map[string]uint64) {
	if !c.IsConnected() || len(counters) == 0 {
		return
	}

	fields := make(map[string]interface{}, len(counters))
	for name, v := range counters {
		fields[name] = v
	}

	point := write.NewPoint(
		measurementBridge,
		map[string]string{"device_id": deviceID},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
