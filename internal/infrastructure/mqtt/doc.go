// Package mqtt provides MQTT client connectivity for the NBE bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions, restored after every reconnect
//   - Last Will and Testament (LWT) on the availability topic
//   - Topic builders for the Home Assistant discovery layout
//
// # Topic Layout
//
//	{device}/bridge/state                       online | offline (retained, LWT)
//	{device}/bridge/static_auto_state           auto | off
//	{device}/bridge/health                      JSON health report
//	{device}/{object}/state                     entity state (retained)
//	{device}/{object}/set                       entity commands
//	{prefix}/{component}/{device}/{object}/config discovery (retained)
//
// # Usage
//
//	topics := mqtt.NewTopics(cfg.DeviceID(), cfg.Bridge.DiscoveryPrefix)
//	client, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
//	    Topic:   topics.Availability(),
//	    Payload: mqtt.PayloadOffline,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
package mqtt
