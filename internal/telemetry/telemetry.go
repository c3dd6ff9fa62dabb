// Package telemetry persists the optional warp.status side channel to Redis/Valkey, keyed per user uuid so an
// operator can inspect a client's last-reported tunnel health without it ever reaching other clients.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nodepulse/presence-gateway/internal/schema"
)

// statusTTL is how long a warp.status record survives without a fresh report before Redis reclaims the key.
const statusTTL = 10 * time.Minute

// record is the raw warp.status fields plus the server-observed timestamp, exactly as stored.
type record struct {
	Enabled          *bool  `json:"enabled,omitempty"`
	Status           string `json:"status,omitempty"`
	WarpMode         string `json:"warpMode,omitempty"`
	Resolver         string `json:"resolver,omitempty"`
	WarpLatency      *int64 `json:"warpLatency,omitempty"`
	SessionStartedAt *int64 `json:"sessionStartedAt,omitempty"`
	LookupMs         *int64 `json:"lookupMs,omitempty"`
	Timestamp        *int64 `json:"timestamp,omitempty"`
	CacheHit         *bool  `json:"cacheHit,omitempty"`
	Error            string `json:"error,omitempty"`
	ServerTimestamp  int64  `json:"serverTimestamp"`
}

// Store writes warp.status payloads to Redis/Valkey, keyed warp:status:<uuid>. It is a best-effort side
// channel: callers log failures and never surface them to the client socket.
type Store struct {
	rdb     *redis.Client
	enabled bool
}

// NewStore creates a warp.status store. When enabled is false, Record is a no-op that never touches Redis —
// this is the configuration knob spec.md calls out for disabling the persistence without changing the wire
// protocol.
func NewStore(rdb *redis.Client, enabled bool) *Store {
	return &Store{rdb: rdb, enabled: enabled}
}

// Record persists msg under warp:status:<uuid>, stamping serverTimestamp=nowMS. A no-op when the store is
// disabled.
func (s *Store) Record(ctx context.Context, uuid string, msg schema.WarpStatusMessage, nowMS int64) error {
	if !s.enabled {
		return nil
	}

	rec := record{
		Enabled:          msg.Enabled,
		Status:           msg.Status,
		WarpMode:         msg.WarpMode,
		Resolver:         msg.Resolver,
		WarpLatency:      msg.WarpLatency,
		SessionStartedAt: msg.SessionStartedAt,
		LookupMs:         msg.LookupMs,
		Timestamp:        msg.Timestamp,
		CacheHit:         msg.CacheHit,
		Error:            msg.Error,
		ServerTimestamp:  nowMS,
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal warp status for %s: %w", uuid, err)
	}

	if err := s.rdb.Set(ctx, statusKey(uuid), payload, statusTTL).Err(); err != nil {
		return fmt.Errorf("set warp status for %s: %w", uuid, err)
	}
	return nil
}

func statusKey(uuid string) string {
	return "warp:status:" + uuid
}
