package gateway

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/nodepulse/presence-gateway/internal/schema"
)

// RunHeartbeatLoop ticks every tickEvery and evicts any registered connection that is no longer open or has
// gone quiet for longer than offlineAfter; everything else gets a server.keepalive frame. It blocks until ctx
// is cancelled. A tick that is still running when the next one fires is skipped rather than overlapped, so a
// slow pass over a large registry can never pile up concurrent passes against it.
func (h *Hub) RunHeartbeatLoop(ctx context.Context, tickEvery, offlineAfter time.Duration) {
	var running atomic.Bool
	ticker := time.NewTicker(tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !running.CompareAndSwap(false, true) {
				h.log.Debug().Msg("heartbeat tick skipped: previous tick still running")
				continue
			}
			go func() {
				defer running.Store(false)
				h.heartbeatTick(tickEvery, offlineAfter)
			}()
		}
	}
}

func (h *Hub) heartbeatTick(tickEvery, offlineAfter time.Duration) {
	now := time.Now().UnixMilli()
	tickMS := tickEvery.Milliseconds()
	offlineAfterMS := offlineAfter.Milliseconds()

	keepalive, err := json.Marshal(schema.NewServerKeepaliveFrame())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal keepalive frame")
		return
	}

	for _, state := range h.reg.Snapshot() {
		if !state.Socket.IsOpen() {
			h.evict(state, CloseSocketNotOpen, "socket_not_open")
			continue
		}
		if now-state.LastSeen() > offlineAfterMS {
			h.evict(state, CloseInactivityTimeout, "inactivity_timeout")
			continue
		}
		// A connection due for its next keepalive is sent one a little ahead of the tick boundary so a
		// slightly-late timer firing doesn't skip a beat.
		if now-state.LastKeepaliveAt() >= tickMS-250 {
			if err := state.Socket.Send(keepalive); err != nil {
				h.evict(state, CloseKeepaliveFailed, "keepalive_failed")
				continue
			}
			state.SetLastKeepaliveAt(now)
		}
	}
}
