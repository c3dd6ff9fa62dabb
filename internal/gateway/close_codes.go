package gateway

import "errors"

// WebSocket close codes used by this protocol. The 4000 range is reserved for application use by RFC 6455;
// 4401 is shared by two distinct failure modes (keepalive send failure and an unreachable socket discovered
// during verification) since both describe the same client-facing condition: the server gave up on this
// connection outside of the normal admission/inactivity paths.
const (
	CloseSocketNotOpen             = 4001
	CloseInactivityTimeout         = 4400
	CloseKeepaliveFailed           = 4401
	CloseVerificationSocketNotOpen = 4401
	CloseVerificationFailed        = 4403
)

var (
	ErrSocketNotOpen      = errors.New("socket is not open")
	ErrInactivityTimeout  = errors.New("connection exceeded inactivity timeout")
	ErrKeepaliveFailed    = errors.New("keepalive send failed")
	ErrVerificationFailed = errors.New("presence verification failed")
)
