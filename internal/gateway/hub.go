// Package gateway wires together the registry, presence store, and wire schema into the actual connection
// lifecycle: upgrade admission, auth/ping/roles/warp.status dispatch, heartbeat eviction, presence
// verification, and the HTTP admin surface.
package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nodepulse/presence-gateway/internal/presence"
	"github.com/nodepulse/presence-gateway/internal/registry"
	"github.com/nodepulse/presence-gateway/internal/schema"
	"github.com/nodepulse/presence-gateway/internal/telemetry"
)

// presenceTimeout bounds every individual presence-store call made from the hot dispatch path, so a slow
// store degrades a single frame instead of stalling a connection's whole message loop.
const presenceTimeout = 5 * time.Second

// Hub owns the registry and is the single point of dispatch for every authenticated socket. One Hub is
// shared by every Session.
type Hub struct {
	reg            *registry.Registry
	presenceClient presence.Client
	telemetryStore *telemetry.Store
	maxConnections int
	log            zerolog.Logger
}

// NewHub creates a Hub. telemetryStore may be nil, in which case warp.status frames are silently ignored.
func NewHub(reg *registry.Registry, presenceClient presence.Client, telemetryStore *telemetry.Store, maxConnections int, logger zerolog.Logger) *Hub {
	return &Hub{
		reg:            reg,
		presenceClient: presenceClient,
		telemetryStore: telemetryStore,
		maxConnections: maxConnections,
		log:            logger,
	}
}

// ClientCount returns the number of currently registered (authenticated) connections.
func (h *Hub) ClientCount() int {
	return h.reg.Len()
}

// AtCapacity reports whether accepting one more connection would exceed maxConnections. A non-positive
// maxConnections disables the cap.
func (h *Hub) AtCapacity() bool {
	if h.maxConnections <= 0 {
		return false
	}
	return h.reg.Len() >= h.maxConnections
}

// Serve runs a freshly upgraded session to completion: starts its write pump and blocks in its read pump
// until the connection closes. The caller (the upgrade handler) runs this synchronously inside the
// connection's own goroutine, so returning here tears the connection down.
func (h *Hub) Serve(s *Session) {
	go s.writePump()
	s.readPump(h)
}

// Dispatch parses one inbound frame and routes it to the matching handler. Any known message kind that
// dispatches successfully against a registered connection advances that connection's last_seen/is_alive —
// applied once here rather than duplicated in every handler, since it is the same rule for auth, ping,
// roles.update, and warp.status alike.
func (h *Hub) Dispatch(s registry.Socket, raw []byte) {
	kind, msg, verr := schema.Parse(raw)
	if verr != nil {
		h.safeSend(s, schema.NewErrorFrame(verr))
		return
	}

	switch kind {
	case schema.KindAuth:
		h.handleAuth(s, msg.(schema.AuthMessage))
	case schema.KindPing:
		h.handlePing(s)
	case schema.KindRolesUpdate:
		h.handleRolesUpdate(s, msg.(schema.RolesUpdateMessage))
	case schema.KindWarpStatus:
		h.handleWarpStatus(s, msg.(schema.WarpStatusMessage))
	default:
		h.log.Debug().Str("type", string(kind)).Msg("ignoring frame of unknown type")
		return
	}

	if state, ok := h.reg.Get(s); ok {
		now := time.Now().UnixMilli()
		state.SetLastSeen(now)
		state.SetIsAlive(true)
	}
}

// handleAuth implements the auth handshake: resolve identity, displace any prior identity on the same
// socket, resolve the effective role set, register the connection, persist presence, and broadcast.
func (h *Hub) handleAuth(s registry.Socket, msg schema.AuthMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	now := time.Now().UnixMilli()

	id := strings.TrimSpace(msg.UUID)
	if id == "" {
		id = uuid.NewString()
	}
	name := strings.TrimSpace(msg.Name)
	if name == "" {
		name = "Unknown"
	}
	accountType := schema.NormalizeAccountType(msg.AccountType)
	providedRoles := schema.NormalizeRoles(msg.Roles)

	// Re-authing an already-registered socket under a different uuid displaces the prior identity exactly
	// as if that connection had closed: mark it offline and announce its departure before the new identity
	// takes its place.
	if prev, ok := h.reg.Get(s); ok && prev.UUID != id {
		if err := h.presenceClient.MarkOffline(ctx, prev.UUID); err != nil {
			h.log.Warn().Err(err).Str("uuid", prev.UUID).Msg("mark_offline failed for displaced identity")
		}
		h.broadcast(schema.NewUserLeaveFrame(prev.UUID))
	}

	canonicalRoles, err := h.presenceClient.FetchRoles(ctx, id)
	if err != nil {
		h.log.Warn().Err(err).Str("uuid", id).Msg("fetch_roles failed")
	}

	var effective []string
	var rolesToPersist []string
	switch {
	case len(canonicalRoles) > 0:
		effective = canonicalRoles
	case len(providedRoles) > 0:
		effective = providedRoles
		rolesToPersist = effective
	default:
		effective = []string{string(schema.RoleMember)}
		rolesToPersist = effective
	}

	var ip *string
	if src, ok := s.(interface{ IP() *string }); ok {
		ip = src.IP()
	}
	state := registry.NewConnectionState(s, id, name, accountType, effective, ip, now)
	h.reg.Insert(s, state)

	if err := h.presenceClient.MarkOnline(ctx, presence.MarkOnlineParams{
		UUID:           id,
		Name:           name,
		AccountType:    accountType,
		IP:             ip,
		RolesToPersist: rolesToPersist,
	}); err != nil {
		h.log.Warn().Err(err).Str("uuid", id).Msg("mark_online failed")
	}

	h.safeSend(s, schema.NewAuthOKFrame(id, effective))
	h.broadcast(schema.NewUserJoinFrame(id, name, accountType))
}

// handlePing refreshes last_seen/is_alive for an already-registered socket and always replies with pong,
// even for a socket that hasn't authenticated yet (there is no identity to stamp, so nothing else happens).
func (h *Hub) handlePing(s registry.Socket) {
	if state, ok := h.reg.Get(s); ok {
		now := time.Now().UnixMilli()
		state.SetLastSeen(now)
		state.SetIsAlive(true)

		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		defer cancel()
		if err := h.presenceClient.UpdateLastSeen(ctx, state.UUID); err != nil {
			h.log.Warn().Err(err).Str("uuid", state.UUID).Msg("update_last_seen failed")
		}
	}
	h.safeSend(s, schema.NewPongFrame())
}

// handleRolesUpdate replaces a registered connection's role set and persists and announces the change. A
// socket that hasn't authenticated yet has no registry entry to update, so the frame is dropped.
func (h *Hub) handleRolesUpdate(s registry.Socket, msg schema.RolesUpdateMessage) {
	state, ok := h.reg.Get(s)
	if !ok {
		return
	}
	roles := schema.NormalizeRoles(msg.Roles)
	if len(roles) == 0 {
		return
	}
	state.SetRoles(roles)

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.presenceClient.UpdateRoles(ctx, state.UUID, roles); err != nil {
		h.log.Warn().Err(err).Str("uuid", state.UUID).Msg("update_roles failed")
	}

	h.broadcast(schema.NewUserRolesFrame(state.UUID, roles))
}

// handleWarpStatus persists the optional telemetry side channel. It never replies and never fails the
// connection: a disabled or unreachable telemetry store is logged and otherwise invisible to the client.
func (h *Hub) handleWarpStatus(s registry.Socket, msg schema.WarpStatusMessage) {
	if h.telemetryStore == nil {
		return
	}
	state, ok := h.reg.Get(s)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.telemetryStore.Record(ctx, state.UUID, msg, time.Now().UnixMilli()); err != nil {
		h.log.Warn().Err(err).Str("uuid", state.UUID).Msg("warp.status persist failed")
	}
}

// HandleClose removes s from the registry (if present), marks its identity offline, and announces its
// departure. It is idempotent: a socket with no registry entry (never authenticated, or already evicted by
// the heartbeat/verification loop) is a silent no-op.
func (h *Hub) HandleClose(s registry.Socket) {
	state, ok := h.reg.Remove(s)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.presenceClient.MarkOffline(ctx, state.UUID); err != nil {
		h.log.Warn().Err(err).Str("uuid", state.UUID).Msg("mark_offline failed on close")
	}
	h.broadcast(schema.NewUserLeaveFrame(state.UUID))
}

// evict forcibly removes and closes a connection discovered to be dead or invalid by a background loop
// (heartbeat or verification). It re-checks the registry before acting, since the entry may already have
// been replaced or removed by the time the background loop's snapshot is processed.
func (h *Hub) evict(state *registry.ConnectionState, code int, reason string) {
	removed, ok := h.reg.Remove(state.Socket)
	if !ok || removed != state {
		return
	}
	state.SetIsAlive(false)

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.presenceClient.MarkOffline(ctx, state.UUID); err != nil {
		h.log.Warn().Err(err).Str("uuid", state.UUID).Msg("mark_offline failed during eviction")
	}
	h.broadcast(schema.NewUserLeaveFrame(state.UUID))

	if err := state.Socket.Close(code, reason); err != nil {
		h.log.Debug().Err(err).Str("uuid", state.UUID).Msg("close failed during eviction")
	}
}

// broadcast serializes v once and fans it out to every open, registered socket, logging (but not
// propagating) per-socket send failures.
func (h *Hub) broadcast(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal broadcast frame")
		return
	}
	for _, state := range h.reg.Snapshot() {
		if !state.Socket.IsOpen() {
			continue
		}
		if err := state.Socket.Send(payload); err != nil {
			h.log.Debug().Err(err).Str("uuid", state.UUID).Msg("broadcast send failed")
		}
	}
}

// safeSend serializes v and sends it to a single socket, logging rather than propagating any failure.
func (h *Hub) safeSend(s registry.Socket, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal frame")
		return
	}
	if !s.IsOpen() {
		return
	}
	if err := s.Send(payload); err != nil {
		h.log.Debug().Err(err).Msg("send failed")
	}
}
