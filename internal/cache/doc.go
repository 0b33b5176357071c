// Package cache keeps the last message seen on every topic in Redis.
//
// Cache is an mqtt.Listener. Each arrived message overwrites a hash at
// <prefix><topic> holding the payload, QoS, retained flag and arrival time;
// an empty retained message deletes it, mirroring how a broker clears a
// retained topic. Get and Topics read the cache back.
//
// Usage:
//
//	client, err := cache.Connect(ctx, cfg.Redis)
//	if err != nil {
//	    return err
//	}
//	c := cache.New(client, cfg.Redis.KeyPrefix, cfg.Redis.TTLDuration())
//	manager.AddListener(c)
package cache
