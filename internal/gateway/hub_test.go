package gateway

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/nodepulse/presence-gateway/internal/registry"
)

func newTestHub(presenceClient *fakePresenceClient) *Hub {
	return NewHub(registry.New(), presenceClient, nil, 0, zerolog.Nop())
}

func TestHandleAuthHappyPath(t *testing.T) {
	pc := newFakePresenceClient()
	h := newTestHub(pc)
	sock := newFakeSocket()

	h.Dispatch(sock, []byte(`{"type":"auth","uuid":"a1","name":"Alice","accountType":"LOCAL"}`))

	msgs := sock.messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (auth.ok then user.join): %+v", len(msgs), msgs)
	}
	if msgs[0]["type"] != "auth.ok" || msgs[0]["uuid"] != "a1" {
		t.Errorf("first frame = %+v, want auth.ok for a1", msgs[0])
	}
	if msgs[1]["type"] != "user.join" || msgs[1]["uuid"] != "a1" || msgs[1]["name"] != "Alice" {
		t.Errorf("second frame = %+v, want user.join for a1/Alice", msgs[1])
	}

	state, ok := h.reg.Get(sock)
	if !ok {
		t.Fatal("socket not registered after auth")
	}
	if state.UUID != "a1" || state.Name() != "Alice" || state.AccountType() != "LOCAL" {
		t.Errorf("state = %+v", state)
	}
	if got := state.Roles(); len(got) != 1 || got[0] != "MEMBER" {
		t.Errorf("roles = %v, want [MEMBER] default", got)
	}

	if len(pc.markOnlineCalls) != 1 || pc.markOnlineCalls[0].UUID != "a1" {
		t.Fatalf("mark_online calls = %+v", pc.markOnlineCalls)
	}
	if got := pc.markOnlineCalls[0].RolesToPersist; len(got) != 1 || got[0] != "MEMBER" {
		t.Errorf("roles_to_persist = %v, want [MEMBER] since the store had no prior roles", got)
	}
}

func TestHandleAuthDefaultsEmptyUUIDAndName(t *testing.T) {
	pc := newFakePresenceClient()
	h := newTestHub(pc)
	sock := newFakeSocket()

	h.Dispatch(sock, []byte(`{"type":"auth","uuid":"","name":""}`))

	state, ok := h.reg.Get(sock)
	if !ok {
		t.Fatal("socket not registered after auth")
	}
	if state.UUID == "" {
		t.Error("UUID was not defaulted to a generated value")
	}
	if state.Name() != "Unknown" {
		t.Errorf("Name = %q, want Unknown", state.Name())
	}
}

func TestHandleAuthPrefersCanonicalRolesAndDoesNotPersist(t *testing.T) {
	pc := newFakePresenceClient()
	pc.rolesByUUID["a1"] = []string{"STAFF", "GOLD"}
	h := newTestHub(pc)
	sock := newFakeSocket()

	h.Dispatch(sock, []byte(`{"type":"auth","uuid":"a1","name":"Alice","roles":["member"]}`))

	state, _ := h.reg.Get(sock)
	if got := state.Roles(); len(got) != 2 || got[0] != "STAFF" || got[1] != "GOLD" {
		t.Errorf("roles = %v, want canonical [STAFF GOLD] to win over provided", got)
	}
	if got := pc.markOnlineCalls[0].RolesToPersist; got != nil {
		t.Errorf("roles_to_persist = %v, want nil since the store already had roles", got)
	}
}

func TestHandleAuthDisplacesPreviousIdentity(t *testing.T) {
	pc := newFakePresenceClient()
	h := newTestHub(pc)
	sock := newFakeSocket()

	h.Dispatch(sock, []byte(`{"type":"auth","uuid":"a1","name":"Alice"}`))
	h.Dispatch(sock, []byte(`{"type":"auth","uuid":"a2","name":"Alice2"}`))

	if len(pc.markOfflineCalls) != 1 || pc.markOfflineCalls[0] != "a1" {
		t.Errorf("mark_offline calls = %v, want one call for a1", pc.markOfflineCalls)
	}

	msgs := sock.messages()
	// auth.ok(a1), user.join(a1), user.leave(a1), auth.ok(a2), user.join(a2)
	if len(msgs) != 5 {
		t.Fatalf("got %d messages, want 5: %+v", len(msgs), msgs)
	}
	if msgs[2]["type"] != "user.leave" || msgs[2]["uuid"] != "a1" {
		t.Errorf("third frame = %+v, want user.leave for a1", msgs[2])
	}

	state, ok := h.reg.Get(sock)
	if !ok || state.UUID != "a2" {
		t.Fatalf("registry entry = %+v, want uuid a2", state)
	}
}

func TestReauthWithSameUUIDStillBroadcastsUserJoin(t *testing.T) {
	pc := newFakePresenceClient()
	h := newTestHub(pc)
	sock := newFakeSocket()

	h.Dispatch(sock, []byte(`{"type":"auth","uuid":"a1","name":"Alice"}`))
	h.Dispatch(sock, []byte(`{"type":"auth","uuid":"a1","name":"Alice"}`))

	var joins int
	for _, m := range sock.messages() {
		if m["type"] == "user.join" {
			joins++
		}
	}
	if joins != 2 {
		t.Errorf("user.join count = %d, want 2 (re-auth under the same uuid rebroadcasts)", joins)
	}
	if len(pc.markOfflineCalls) != 0 {
		t.Errorf("mark_offline calls = %v, want none: same-uuid re-auth is not a displacement", pc.markOfflineCalls)
	}
}

func TestHandlePingBeforeAuthIsPongOnly(t *testing.T) {
	pc := newFakePresenceClient()
	h := newTestHub(pc)
	sock := newFakeSocket()

	h.Dispatch(sock, []byte(`{"type":"ping"}`))

	msgs := sock.messages()
	if len(msgs) != 1 || msgs[0]["type"] != "pong" {
		t.Fatalf("messages = %+v, want exactly one pong", msgs)
	}
	if _, ok := h.reg.Get(sock); ok {
		t.Error("registry entry created by an unauthenticated ping")
	}
	if len(pc.updateLastSeenCalls) != 0 {
		t.Errorf("update_last_seen calls = %v, want none before auth", pc.updateLastSeenCalls)
	}
}

func TestHandlePingAfterAuthUpdatesLastSeen(t *testing.T) {
	pc := newFakePresenceClient()
	h := newTestHub(pc)
	sock := newFakeSocket()

	h.Dispatch(sock, []byte(`{"type":"auth","uuid":"a1","name":"Alice"}`))
	h.Dispatch(sock, []byte(`{"type":"ping"}`))

	if len(pc.updateLastSeenCalls) != 1 || pc.updateLastSeenCalls[0] != "a1" {
		t.Errorf("update_last_seen calls = %v, want one call for a1", pc.updateLastSeenCalls)
	}
}

func TestHandleRolesUpdateBroadcastsAndPersists(t *testing.T) {
	pc := newFakePresenceClient()
	h := newTestHub(pc)
	sock := newFakeSocket()

	h.Dispatch(sock, []byte(`{"type":"auth","uuid":"a1","name":"Alice"}`))
	h.Dispatch(sock, []byte(`{"type":"roles.update","roles":["staff","gold"]}`))

	state, _ := h.reg.Get(sock)
	if got := state.Roles(); len(got) != 2 || got[0] != "STAFF" || got[1] != "GOLD" {
		t.Errorf("roles = %v, want [STAFF GOLD]", got)
	}
	if got := pc.updateRolesCalls["a1"]; len(got) != 2 {
		t.Errorf("update_roles persisted = %v", got)
	}

	msgs := sock.messages()
	last := msgs[len(msgs)-1]
	if last["type"] != "user.roles" || last["uuid"] != "a1" {
		t.Errorf("last frame = %+v, want user.roles for a1", last)
	}
}

func TestHandleRolesUpdateIgnoredWhenNotRegistered(t *testing.T) {
	pc := newFakePresenceClient()
	h := newTestHub(pc)
	sock := newFakeSocket()

	h.Dispatch(sock, []byte(`{"type":"roles.update","roles":["staff"]}`))

	if len(sock.messages()) != 0 {
		t.Errorf("messages = %+v, want none for an unauthenticated socket", sock.messages())
	}
	if len(pc.updateRolesCalls) != 0 {
		t.Errorf("update_roles calls = %v, want none", pc.updateRolesCalls)
	}
}

func TestHandleWarpStatusWithNilTelemetryStoreIsNoOp(t *testing.T) {
	pc := newFakePresenceClient()
	h := newTestHub(pc)
	sock := newFakeSocket()

	h.Dispatch(sock, []byte(`{"type":"auth","uuid":"a1","name":"Alice"}`))
	h.Dispatch(sock, []byte(`{"type":"warp.status","status":"connected"}`))

	// No panic and no reply is the whole assertion: warp.status never gets a response frame.
	for _, m := range sock.messages() {
		if m["type"] == "warp.status" {
			t.Errorf("unexpected echoed warp.status frame: %+v", m)
		}
	}
}

func TestHandleCloseIsIdempotent(t *testing.T) {
	pc := newFakePresenceClient()
	h := newTestHub(pc)
	sock := newFakeSocket()

	h.Dispatch(sock, []byte(`{"type":"auth","uuid":"a1","name":"Alice"}`))
	h.HandleClose(sock)
	h.HandleClose(sock)

	if len(pc.markOfflineCalls) != 1 {
		t.Errorf("mark_offline calls = %v, want exactly one", pc.markOfflineCalls)
	}

	var leaves int
	for _, m := range sock.messages() {
		if m["type"] == "user.leave" {
			leaves++
		}
	}
	if leaves != 1 {
		t.Errorf("user.leave count = %d, want 1", leaves)
	}
}

func TestHandleCloseOnUnregisteredSocketIsNoOp(t *testing.T) {
	pc := newFakePresenceClient()
	h := newTestHub(pc)
	sock := newFakeSocket()

	h.HandleClose(sock)

	if len(pc.markOfflineCalls) != 0 {
		t.Errorf("mark_offline calls = %v, want none", pc.markOfflineCalls)
	}
}

func TestDispatchUnknownTypeIsIgnored(t *testing.T) {
	pc := newFakePresenceClient()
	h := newTestHub(pc)
	sock := newFakeSocket()

	h.Dispatch(sock, []byte(`{"type":"something.else"}`))

	if len(sock.messages()) != 0 {
		t.Errorf("messages = %+v, want none for an unknown frame type", sock.messages())
	}
}

func TestDispatchInvalidPayloadSendsErrorFrame(t *testing.T) {
	pc := newFakePresenceClient()
	h := newTestHub(pc)
	sock := newFakeSocket()

	h.Dispatch(sock, []byte(`not json`))

	msgs := sock.messages()
	if len(msgs) != 1 || msgs[0]["type"] != "error" || msgs[0]["code"] != "INVALID_PAYLOAD" {
		t.Fatalf("messages = %+v, want one INVALID_PAYLOAD error frame", msgs)
	}
}

func TestBroadcastSkipsClosedSockets(t *testing.T) {
	pc := newFakePresenceClient()
	h := newTestHub(pc)
	open := newFakeSocket()
	closedSock := newFakeSocket()
	closedSock.open = false

	h.Dispatch(open, []byte(`{"type":"auth","uuid":"a1","name":"Alice"}`))
	h.reg.Insert(closedSock, registry.NewConnectionState(closedSock, "c1", "Closed", "LOCAL", []string{"MEMBER"}, nil, 0))

	h.Dispatch(open, []byte(`{"type":"roles.update","roles":["staff"]}`))

	if len(closedSock.messages()) != 0 {
		t.Errorf("closed socket received %d messages, want 0", len(closedSock.messages()))
	}
}
