package schema

// Server->client frame shapes. Each is a flat JSON object discriminated by its "type" field, since this
// wire format must stay byte-compatible with an existing population of clients.

type AuthOKFrame struct {
	Type  string   `json:"type"`
	UUID  string   `json:"uuid"`
	Roles []string `json:"roles"`
}

func NewAuthOKFrame(uuid string, roles []string) AuthOKFrame {
	return AuthOKFrame{Type: "auth.ok", UUID: uuid, Roles: roles}
}

type UserJoinFrame struct {
	Type        string `json:"type"`
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	AccountType string `json:"accountType"`
}

func NewUserJoinFrame(uuid, name, accountType string) UserJoinFrame {
	return UserJoinFrame{Type: "user.join", UUID: uuid, Name: name, AccountType: accountType}
}

type UserLeaveFrame struct {
	Type string `json:"type"`
	UUID string `json:"uuid"`
}

func NewUserLeaveFrame(uuid string) UserLeaveFrame {
	return UserLeaveFrame{Type: "user.leave", UUID: uuid}
}

type UserRolesFrame struct {
	Type  string   `json:"type"`
	UUID  string   `json:"uuid"`
	Roles []string `json:"roles"`
}

func NewUserRolesFrame(uuid string, roles []string) UserRolesFrame {
	return UserRolesFrame{Type: "user.roles", UUID: uuid, Roles: roles}
}

type PongFrame struct {
	Type string `json:"type"`
}

func NewPongFrame() PongFrame {
	return PongFrame{Type: "pong"}
}

type ServerKeepaliveFrame struct {
	Type string `json:"type"`
}

func NewServerKeepaliveFrame() ServerKeepaliveFrame {
	return ServerKeepaliveFrame{Type: "server.keepalive"}
}

type ServerVerifyFrame struct {
	Type     string `json:"type"`
	UUID     string `json:"uuid"`
	LastSeen int64  `json:"lastSeen"`
}

func NewServerVerifyFrame(uuid string, lastSeen int64) ServerVerifyFrame {
	return ServerVerifyFrame{Type: "server.verify", UUID: uuid, LastSeen: lastSeen}
}

type ErrorFrame struct {
	Type    string   `json:"type"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func NewErrorFrame(verr *ValidationError) ErrorFrame {
	return ErrorFrame{Type: "error", Code: verr.Code, Message: verr.Message, Details: verr.Details}
}
