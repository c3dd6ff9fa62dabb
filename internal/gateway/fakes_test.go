package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/nodepulse/presence-gateway/internal/presence"
)

// errSendFailed is a generic sentinel used across tests to simulate a failing Send/fetch without implying a
// particular real-world cause.
var errSendFailed = errors.New("send failed")

// fakeSocket is an in-memory registry.Socket double: every sent frame is captured (decoded as JSON) instead
// of hitting a real connection, and Close/IsOpen behave exactly as the real Session's would.
type fakeSocket struct {
	mu          sync.Mutex
	open        bool
	sent        []map[string]any
	closed      bool
	closeCode   int
	closeReason string
	sendErr     error
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{open: true}
}

func (s *fakeSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrSocketNotOpen
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		panic("fakeSocket.Send: frame did not decode as JSON: " + err.Error())
	}
	s.sent = append(s.sent, decoded)
	return nil
}

func (s *fakeSocket) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.closed = true
	s.closeCode = code
	s.closeReason = reason
	return nil
}

func (s *fakeSocket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *fakeSocket) messages() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.sent...)
}

func (s *fakeSocket) setSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// fakePresenceClient implements presence.Client entirely in memory, recording every call so tests can assert
// on what the hub told the store to do without needing Postgres.
type fakePresenceClient struct {
	mu sync.Mutex

	rolesByUUID map[string][]string
	onlineUsers []presence.Record
	fetchErr    error
	countOnline int

	markOnlineCalls     []presence.MarkOnlineParams
	markOfflineCalls    []string
	updateLastSeenCalls []string
	updateRolesCalls    map[string][]string
}

func newFakePresenceClient() *fakePresenceClient {
	return &fakePresenceClient{
		rolesByUUID:      make(map[string][]string),
		updateRolesCalls: make(map[string][]string),
	}
}

func (f *fakePresenceClient) MarkOnline(_ context.Context, params presence.MarkOnlineParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markOnlineCalls = append(f.markOnlineCalls, params)
	return nil
}

func (f *fakePresenceClient) MarkOffline(_ context.Context, uuid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markOfflineCalls = append(f.markOfflineCalls, uuid)
	return nil
}

func (f *fakePresenceClient) UpdateLastSeen(_ context.Context, uuid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateLastSeenCalls = append(f.updateLastSeenCalls, uuid)
	return nil
}

func (f *fakePresenceClient) UpdateRoles(_ context.Context, uuid string, roles []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateRolesCalls[uuid] = roles
	return nil
}

func (f *fakePresenceClient) FetchRoles(_ context.Context, uuid string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rolesByUUID[uuid], nil
}

func (f *fakePresenceClient) FetchOnlineUsers(_ context.Context, limit int) ([]presence.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if limit < len(f.onlineUsers) {
		return append([]presence.Record(nil), f.onlineUsers[:limit]...), nil
	}
	return append([]presence.Record(nil), f.onlineUsers...), nil
}

func (f *fakePresenceClient) CountOnlineUsers(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countOnline, nil
}
