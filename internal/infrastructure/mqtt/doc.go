// Package mqtt provides the MQTT connection used as a second command
// transport next to HTTP.
//
// This package manages:
//   - Connection to the broker with auto-reconnect and backoff
//   - Publishing with QoS and a 1 MiB payload ceiling
//   - Subscriptions that survive reconnects
//   - A retained status topic with Last Will and Testament
//
// # Topics
//
// Every controller owns one subtree, see Topics:
//
//	periphctl/bench-01/execute       batches in
//	periphctl/bench-01/results       responses out
//	periphctl/bench-01/status        online/offline (retained)
//	periphctl/bench-01/events/...    executed-command events
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Device.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().ExecuteFilter(), client.QoS(), handler)
//
// TLS should be enabled whenever the broker is not on localhost: batches
// carry the api_key in clear text inside the payload.
package mqtt
