package gateway

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/nodepulse/presence-gateway/internal/presence"
	"github.com/nodepulse/presence-gateway/internal/schema"
)

// minVerifyFetchLimit is the floor applied to the fetch_online_users call each verification pass makes,
// regardless of how small the local registry currently is — a gateway with few local connections should
// still see enough of the store's online set to catch identities that drifted offline elsewhere.
const minVerifyFetchLimit = 100

// RunVerificationLoop ticks every interval and reconciles every registered connection against the external
// presence store, evicting anything the store no longer agrees is online under the same identity. interval
// of zero or less disables the loop entirely (the caller should not even call this in that case, but the
// check is repeated here since Hub has no other place to record "verification disabled").
func (h *Hub) RunVerificationLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	var running atomic.Bool
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !running.CompareAndSwap(false, true) {
				h.log.Debug().Msg("verification tick skipped: previous tick still running")
				continue
			}
			go func() {
				defer running.Store(false)
				h.verifyTick()
			}()
		}
	}
}

func (h *Hub) verifyTick() {
	limit := h.reg.Len()
	if limit < minVerifyFetchLimit {
		limit = minVerifyFetchLimit
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	records, err := h.presenceClient.FetchOnlineUsers(ctx, limit)
	if err != nil {
		h.log.Warn().Err(err).Msg("fetch_online_users failed during verification")
		return
	}

	byUUID := make(map[string]presence.Record, len(records))
	for _, r := range records {
		byUUID[r.UUID] = r
	}

	for _, state := range h.reg.Snapshot() {
		if !state.Socket.IsOpen() {
			h.evict(state, CloseVerificationSocketNotOpen, "verification_socket_not_open")
			continue
		}

		rec, ok := byUUID[state.UUID]
		switch {
		case !ok || !rec.Online:
			h.evict(state, CloseVerificationFailed, "verification_d1_offline")
			continue
		case rec.Name != state.Name() || rec.AccountType != state.AccountType():
			h.evict(state, CloseVerificationFailed, "verification_identity_mismatch")
			continue
		}

		payload, err := json.Marshal(schema.NewServerVerifyFrame(state.UUID, state.LastSeen()))
		if err != nil {
			h.log.Error().Err(err).Msg("failed to marshal verify frame")
			continue
		}
		if err := state.Socket.Send(payload); err != nil {
			h.log.Debug().Err(err).Str("uuid", state.UUID).Msg("failed to send verify frame")
		}
	}
}
