package gateway

import (
	"strings"

	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
)

// Upgrade returns the Fiber handler mounted at the configured WebSocket path. It rejects anything that
// isn't a genuine WebSocket upgrade, enforces the forwarded-protocol check, and admits the connection up to
// maxConnections before handing it to the hub.
func Upgrade(hub *Hub, logger zerolog.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		if proto := c.Get("x-forwarded-proto"); proto != "" && !strings.EqualFold(proto, "https") {
			return fiber.NewError(fiber.StatusBadRequest, "Insecure connection")
		}
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.NewError(fiber.StatusUpgradeRequired)
		}
		if hub.AtCapacity() {
			return fiber.NewError(fiber.StatusServiceUnavailable, "Too many connections")
		}

		ip := ResolveClientIP(c)
		sessionLog := logger
		if ip != nil {
			sessionLog = logger.With().Str("ip", *ip).Logger()
		}

		return websocket.New(func(conn *websocket.Conn) {
			hub.Serve(newSession(conn.Conn, ip, sessionLog))
		})(c)
	}
}

// ResolveClientIP resolves the client's address from the standard reverse-proxy header priority: Cloudflare's
// connecting-IP header, then a generic real-IP header, then the first hop of X-Forwarded-For. Returns nil if
// none are present.
func ResolveClientIP(c fiber.Ctx) *string {
	if v := strings.TrimSpace(c.Get("cf-connecting-ip")); v != "" {
		return &v
	}
	if v := strings.TrimSpace(c.Get("x-real-ip")); v != "" {
		return &v
	}
	if xff := c.Get("x-forwarded-for"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return &first
		}
	}
	return nil
}
