package syncer

import (
	"context"
	"encoding/json"
	"time"
)

// LeaseKey is the kv key naming the engine currently flushing. Engines in
// different processes share it, so only one of them pushes at a time.
const LeaseKey = "flush_lease"

// leaseTTL bounds how long a crashed process can block other flushes.
const leaseTTL = 2 * time.Minute

type lease struct {
	Owner string    `json:"owner"`
	Until time.Time `json:"until"`
}

// acquireLease claims or extends the flush lease. It reports false while
// another engine holds an unexpired lease.
func (e *Engine) acquireLease(ctx context.Context) (bool, error) {
	if e.kv == nil {
		return true, nil
	}
	now := e.opts.Now()
	held := false
	err := e.kv.Update(ctx, LeaseKey, func(b []byte) ([]byte, error) {
		var cur lease
		if len(b) > 0 {
			if err := json.Unmarshal(b, &cur); err != nil {
				cur = lease{}
			}
		}
		if cur.Owner != "" && cur.Owner != e.id && now.Before(cur.Until) {
			return nil, nil
		}
		held = true
		return json.Marshal(lease{Owner: e.id, Until: now.Add(leaseTTL)})
	})
	if err != nil {
		return false, err
	}
	return held, nil
}

func (e *Engine) releaseLease(ctx context.Context) {
	if e.kv == nil {
		return
	}
	err := e.kv.Update(context.WithoutCancel(ctx), LeaseKey, func(b []byte) ([]byte, error) {
		var cur lease
		if err := json.Unmarshal(b, &cur); err != nil || cur.Owner != e.id {
			return nil, nil
		}
		return json.Marshal(lease{})
	})
	if err != nil {
		e.logger.Printf("Warning: could not release flush lease: %v", err)
	}
}
