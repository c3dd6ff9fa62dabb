// Package schema defines the client<->server WebSocket message shapes, their validation, and the
// role/account-type normalization rules shared by every frame that carries them.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind discriminates a parsed client message by its wire-level "type" field.
type Kind string

const (
	KindAuth        Kind = "auth"
	KindPing        Kind = "ping"
	KindRolesUpdate Kind = "roles.update"
	KindWarpStatus  Kind = "warp.status"
	KindUnknown     Kind = "unknown"
)

const maxRoles = 8

// AuthMessage is the client->server "auth" variant.
type AuthMessage struct {
	UUID        string   `json:"uuid"`
	Name        string   `json:"name"`
	AccountType string   `json:"accountType"`
	Roles       []string `json:"roles"`
}

// RolesUpdateMessage is the client->server "roles.update" variant.
type RolesUpdateMessage struct {
	Roles []string `json:"roles"`
}

// WarpStatusMessage is the client->server "warp.status" variant. Every field is optional telemetry.
type WarpStatusMessage struct {
	Enabled          *bool   `json:"enabled,omitempty"`
	Status           string  `json:"status,omitempty"`
	WarpMode         string  `json:"warpMode,omitempty"`
	Resolver         string  `json:"resolver,omitempty"`
	WarpLatency      *int64  `json:"warpLatency,omitempty"`
	SessionStartedAt *int64  `json:"sessionStartedAt,omitempty"`
	LookupMs         *int64  `json:"lookupMs,omitempty"`
	Timestamp        *int64  `json:"timestamp,omitempty"`
	CacheHit         *bool   `json:"cacheHit,omitempty"`
	Error            string  `json:"error,omitempty"`
}

type envelope struct {
	Type string `json:"type"`
}

// Parse decodes a raw inbound WebSocket text frame. The structural/type-level checks described by the wire
// table live here (JSON shape, field types, length caps); business-level defaulting — such as substituting a
// generated uuid or "Unknown" name for an empty auth field — is the gateway handler's responsibility, not
// this package's, since the two are applied at different points in the auth flow.
//
// An unknown "type" is not a validation error: it is returned as KindUnknown with a nil message so the caller
// can log and ignore it.
func Parse(raw []byte) (Kind, any, *ValidationError) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, &ValidationError{Code: "INVALID_PAYLOAD", Message: "Invalid message payload", Details: []string{err.Error()}}
	}

	switch Kind(env.Type) {
	case KindAuth:
		var m AuthMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return "", nil, parseErr(err)
		}
		if verr := validateAuth(&m); verr != nil {
			return "", nil, verr
		}
		return KindAuth, m, nil

	case KindPing:
		return KindPing, nil, nil

	case KindRolesUpdate:
		var m RolesUpdateMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return "", nil, parseErr(err)
		}
		if verr := validateRolesUpdate(&m); verr != nil {
			return "", nil, verr
		}
		return KindRolesUpdate, m, nil

	case KindWarpStatus:
		var m WarpStatusMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return "", nil, parseErr(err)
		}
		if verr := validateWarpStatus(&m); verr != nil {
			return "", nil, verr
		}
		return KindWarpStatus, m, nil

	default:
		return KindUnknown, nil, nil
	}
}

func parseErr(err error) *ValidationError {
	return &ValidationError{Code: "INVALID_PAYLOAD", Message: "Invalid message payload", Details: []string{err.Error()}}
}

func validateAuth(m *AuthMessage) *ValidationError {
	var details []string
	if len(strings.TrimSpace(m.Name)) > 32 {
		details = append(details, "name must be at most 32 characters after trimming")
	}
	if len(m.Roles) > maxRoles {
		details = append(details, fmt.Sprintf("roles must contain at most %d entries", maxRoles))
	}
	if len(details) > 0 {
		return &ValidationError{Code: "INVALID_PAYLOAD", Message: "Invalid message payload", Details: details}
	}
	return nil
}

func validateRolesUpdate(m *RolesUpdateMessage) *ValidationError {
	if len(m.Roles) < 1 || len(m.Roles) > maxRoles {
		return &ValidationError{
			Code:    "INVALID_PAYLOAD",
			Message: "Invalid message payload",
			Details: []string{fmt.Sprintf("roles must contain between 1 and %d entries", maxRoles)},
		}
	}
	return nil
}

func validateWarpStatus(m *WarpStatusMessage) *ValidationError {
	var details []string
	if len(m.Status) > 32 {
		details = append(details, "status must be at most 32 characters")
	}
	if len(m.WarpMode) > 256 {
		details = append(details, "warpMode must be at most 256 characters")
	}
	if len(m.Resolver) > 256 {
		details = append(details, "resolver must be at most 256 characters")
	}
	if len(m.Error) > 256 {
		details = append(details, "error must be at most 256 characters")
	}
	for _, n := range []struct {
		name string
		v    *int64
	}{
		{"warpLatency", m.WarpLatency},
		{"sessionStartedAt", m.SessionStartedAt},
		{"lookupMs", m.LookupMs},
		{"timestamp", m.Timestamp},
	} {
		if n.v != nil && *n.v < 0 {
			details = append(details, n.name+" must be non-negative")
		}
	}
	if len(details) > 0 {
		return &ValidationError{Code: "INVALID_PAYLOAD", Message: "Invalid message payload", Details: details}
	}
	return nil
}
