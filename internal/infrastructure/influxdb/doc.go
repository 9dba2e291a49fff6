// Package influxdb provides optional InfluxDB telemetry for the NBE bridge.
//
// It wraps the official influxdb-client-go v2 library. Every numeric value
// seen during a refresh is written as an nbe_resource point tagged with the
// device id, resource key and entity kind, and the bridge's counters are
// written periodically as nbe_bridge points.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteResourceValue(deviceID, "boiler.temp", "sensor", 65.5)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched; asynchronous write errors are delivered to the SetOnError callback.
package influxdb
