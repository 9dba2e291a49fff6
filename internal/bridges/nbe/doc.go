// Package nbe implements the bridge between an NBE pellet-burner controller
// and Home Assistant over MQTT.
//
// The controller speaks a line-oriented protocol over UDP (port 8483). The
// bridge polls it on a fixed interval, publishes every value the resource
// schema names, and writes setpoint and switch commands back.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐
//	│ Home Assistant  │   MQTT   │   NBE Bridge    │   UDP
//	│                 │◄────────►│   (this pkg)    │◄────────► Controller
//	└─────────────────┘          └─────────────────┘
//
// # Components
//
//   - Client: encodes request frames, matches responses by sequence number
//   - Guard: serialises device access so a refresh and a write never overlap
//   - Refresher: queries the configured data groups and publishes values
//   - Dispatcher: turns command topic messages into confirmed device writes
//   - HealthReporter: publishes a retained health document
//
// # Frames
//
// A request carries the application id, controller serial, function code,
// sequence number, PIN, timestamp and a length-prefixed payload between STX
// and EOT. Settings keys come back without their category, so the client
// prefixes them (for example "temp=70" from settings/boiler becomes
// "boiler.temp=70").
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package nbe
