package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/nodepulse/presence-gateway/internal/presence"
	"github.com/nodepulse/presence-gateway/internal/ratelimit"
	"github.com/nodepulse/presence-gateway/internal/registry"
)

type fakeHealthCache struct {
	startedAt int64
	err       error
}

func (f *fakeHealthCache) StartedAt(context.Context, int64) (int64, error) {
	return f.startedAt, f.err
}

const testAdminKey = "secret-admin-key-value"

func newTestApp(hub *Hub, pc *fakePresenceClient) *fiber.App {
	app := fiber.New()
	limiter := ratelimit.New(60000, 100)
	RegisterAdminRoutes(app, hub, &fakeHealthCache{startedAt: 1000}, pc, limiter, testAdminKey, "test", "v1")
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, adminKey string, body []byte) (*http.Response, map[string]any) {
	t.Helper()

	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if adminKey != "" {
		req.Header.Set("x-admin-key", adminKey)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decoding body: %v\nraw: %s", err, raw)
		}
	}
	return resp, decoded
}

func TestHealthEndpointIsUnauthenticated(t *testing.T) {
	pc := newFakePresenceClient()
	h := newTestHub(pc)
	app := newTestApp(h, pc)

	resp, body := doJSON(t, app, http.MethodGet, "/v1/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["ok"] != true {
		t.Errorf("ok = %v, want true", body["ok"])
	}
	if body["startedAt"] != float64(1000) {
		t.Errorf("startedAt = %v, want 1000", body["startedAt"])
	}
}

func TestConnectedUsersRequiresAdminKey(t *testing.T) {
	pc := newFakePresenceClient()
	h := newTestHub(pc)
	app := newTestApp(h, pc)

	resp, body := doJSON(t, app, http.MethodGet, "/v1/connected-users", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if body["success"] != false {
		t.Errorf("body = %+v, want success:false", body)
	}
}

func TestConnectedUsersFallsBackToRegistryOnFetchError(t *testing.T) {
	pc := newFakePresenceClient()
	pc.fetchErr = errSendFailed
	h := newTestHub(pc)
	sock := newFakeSocket()
	h.reg.Insert(sock, registry.NewConnectionState(sock, "a1", "Alice", "LOCAL", []string{"MEMBER"}, nil, 1000))
	app := newTestApp(h, pc)

	resp, body := doJSON(t, app, http.MethodGet, "/v1/connected-users", testAdminKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	users, ok := body["users"].([]any)
	if !ok || len(users) != 1 {
		t.Fatalf("users = %+v, want one fallback entry", body["users"])
	}
}

func TestConnectedUsersUsesPresenceStoreWhenAvailable(t *testing.T) {
	pc := newFakePresenceClient()
	pc.onlineUsers = []presence.Record{{UUID: "a1", Name: "Alice", AccountType: "LOCAL", Online: true}}
	h := newTestHub(pc)
	app := newTestApp(h, pc)

	_, body := doJSON(t, app, http.MethodGet, "/v1/connected-users", testAdminKey, nil)
	users, ok := body["users"].([]any)
	if !ok || len(users) != 1 {
		t.Fatalf("users = %+v, want one presence-store entry", body["users"])
	}
}

func TestBroadcastRequiresNonEmptyType(t *testing.T) {
	pc := newFakePresenceClient()
	h := newTestHub(pc)
	app := newTestApp(h, pc)

	resp, body := doJSON(t, app, http.MethodPost, "/v1/broadcast", testAdminKey, []byte(`{"payload":{"text":"hi"}}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["success"] != false {
		t.Errorf("body = %+v", body)
	}
}

func TestBroadcastFansOutToOpenSockets(t *testing.T) {
	pc := newFakePresenceClient()
	h := newTestHub(pc)
	sock := newFakeSocket()
	h.reg.Insert(sock, registry.NewConnectionState(sock, "a1", "Alice", "LOCAL", []string{"MEMBER"}, nil, 1000))
	app := newTestApp(h, pc)

	resp, body := doJSON(t, app, http.MethodPost, "/v1/broadcast", testAdminKey, []byte(`{"type":"banner","payload":{"text":"hi"}}`))
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("status=%d body=%+v", resp.StatusCode, body)
	}

	msgs := sock.messages()
	if len(msgs) != 1 || msgs[0]["type"] != "banner" || msgs[0]["text"] != "hi" {
		t.Fatalf("messages = %+v, want one banner frame with text=hi", msgs)
	}
}

func TestUnknownPathReturns404(t *testing.T) {
	pc := newFakePresenceClient()
	h := newTestHub(pc)
	app := newTestApp(h, pc)

	resp, _ := doJSON(t, app, http.MethodGet, "/v1/nope", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
