package mqtt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Reconnector is a Listener that restarts a retrying connect on the manager
// whenever its connection is lost. Register it on the manager it watches:
//
//	manager.AddListener(mqtt.NewReconnector(ctx, manager, -1, 5*time.Second))
//
// At most one retry loop runs at a time; a loss reported while one is running
// is ignored, and so is one the manager recovered from before the loop took
// the connection lock. Nothing is started once ctx is done or the manager is
// shut down.
type Reconnector struct {
	ctx     context.Context
	manager *Manager
	retry   RetryConfig

	running    atomic.Bool
	reconnects atomic.Uint64
	wg         sync.WaitGroup
}

var _ Listener = (*Reconnector)(nil)

// NewReconnector creates a Reconnector for manager using the given retry policy.
func NewReconnector(ctx context.Context, manager *Manager, bound int, period time.Duration) *Reconnector {
	return &Reconnector{
		ctx:     ctx,
		manager: manager,
		retry:   RetryConfig{Bound: bound, Period: period},
	}
}

// ConnectionLost starts a ConnectWithRetry loop in the background.
func (r *Reconnector) ConnectionLost(cause error) {
	if r.ctx.Err() != nil || r.manager.IsShutdown() {
		return
	}
	if !r.running.CompareAndSwap(false, true) {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)

		log := r.manager.log()
		log.Info("MQTT reconnecting after connection loss",
			"address", r.manager.Address(),
			"cause", cause,
		)
		reconnected, err := r.manager.reconnectIfDown(r.ctx, r.retry.Bound, r.retry.Period)
		if err != nil {
			log.Error("MQTT reconnect gave up", "address", r.manager.Address(), "error", err)
			return
		}
		if reconnected {
			r.reconnects.Add(1)
		}
	}()
}

// MessageArrived implements Listener and accepts every message.
func (r *Reconnector) MessageArrived(string, Message) error { return nil }

// DeliveryComplete implements Listener.
func (r *Reconnector) DeliveryComplete(DeliveryToken) {}

// Reconnects returns the number of successful reconnects.
func (r *Reconnector) Reconnects() uint64 {
	return r.reconnects.Load()
}

// Wait blocks until a running retry loop has finished.
func (r *Reconnector) Wait() {
	r.wg.Wait()
}
