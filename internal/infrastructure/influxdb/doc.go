// Package influxdb writes command telemetry to InfluxDB v2.
//
// Two measurements are written:
//
//	command  tags device, module, command, source, status; field duration_ms
//	samples  tags device, module, command; field value (one point per sample)
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Device.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteCommand(influxdb.CommandTags{Module: "gpio", Command: "digitalRead", Source: "http", Status: "ok"}, d, time.Now())
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval.
package influxdb
