// Package journal persists broker notifications to SQLite.
//
// A Journal is an mqtt.Listener: registered on a Manager it records every
// connection loss, arrived message and completed delivery as a row in
// journal_events, and every connection attempt (via Manager.SetOnAttempt)
// in connect_attempts. Recent, Count and Attempts read them back.
//
// A failed insert from MessageArrived is returned to the fanout, so the
// message is left unacknowledged and the broker may redeliver it.
package journal
