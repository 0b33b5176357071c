// Package influxdb records BrokerLink broker activity in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management and batched, non-blocking writes, and provides EventRecorder,
// an mqtt.Listener that turns broker notifications and connection attempts
// into points:
//
//	broker_events,broker=source,event=message_arrived,qos=1 count=1i,bytes=42i,topic="sensors/hall"
//	connect_attempts,broker=source,address=tcp://broker:1883,success=false attempt=2i,duration_ms=10003i
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	recorder := influxdb.NewEventRecorder(client, "source")
//	manager.AddListener(recorder)
//
// # Error Handling
//
// Writes are non-blocking; batch failures are delivered to the SetOnError
// callback. Connection and health check errors are returned directly.
package influxdb
