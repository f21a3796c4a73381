// Package remote carries command batches over MQTT.
//
// A batch published to <prefix>/<device_id>/execute is run by the same
// dispatcher as HTTP batches and the response document is published to
// <prefix>/<device_id>/results. A correlation suffix
// (execute/<id> -> results/<id>) lets several callers share one device
// and becomes the batch request id.
package remote
