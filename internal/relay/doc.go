// Package relay forwards messages from one broker to another.
//
// A Relay is an mqtt.Listener registered on the source Manager. Every
// arrived message is republished through the target's Publish, so the
// target's stale-connection recovery and reconnect policy apply to each
// forwarded message. When the target cannot take the message the error is
// returned to the source fanout and the source message is left
// unacknowledged.
//
// Usage:
//
//	r := relay.New(target, cfg.Relay)
//	defer r.Close()
//	source.AddListener(r)
package relay
