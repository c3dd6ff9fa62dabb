package gateway

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"

	"github.com/nodepulse/presence-gateway/internal/httputil"
	"github.com/nodepulse/presence-gateway/internal/presence"
	"github.com/nodepulse/presence-gateway/internal/ratelimit"
	"github.com/nodepulse/presence-gateway/internal/registry"
)

// HealthCache is the narrow read needed from *health.Cache. Accepting this instead of the concrete type
// keeps the admin surface testable without a live Postgres-backed cache behind it.
type HealthCache interface {
	StartedAt(ctx context.Context, nowMS int64) (int64, error)
}

// connectedUserView is the shape returned by /v1/connected-users, regardless of whether it was sourced from
// the presence store or the in-memory registry fallback.
type connectedUserView struct {
	UUID        string   `json:"uuid"`
	Name        string   `json:"name"`
	AccountType string   `json:"accountType"`
	LastSeen    int64    `json:"lastSeen"`
	ConnectedAt int64    `json:"connectedAt"`
	Roles       []string `json:"roles"`
}

func viewFromRecord(r presence.Record) connectedUserView {
	var lastSeen, connectedAt int64
	if r.LastSeen != nil {
		lastSeen = *r.LastSeen
	}
	// The presence store has no notion of "connected to this gateway instance"; last_join is the closest
	// analogue of connectedAt for a record sourced from the store rather than the local registry.
	if r.LastJoin != nil {
		connectedAt = *r.LastJoin
	}
	return connectedUserView{
		UUID:        r.UUID,
		Name:        r.Name,
		AccountType: r.AccountType,
		LastSeen:    lastSeen,
		ConnectedAt: connectedAt,
		Roles:       r.Roles,
	}
}

func viewFromState(s *registry.ConnectionState) connectedUserView {
	return connectedUserView{
		UUID:        s.UUID,
		Name:        s.Name(),
		AccountType: s.AccountType(),
		LastSeen:    s.LastSeen(),
		ConnectedAt: s.ConnectedAt(),
		Roles:       s.Roles(),
	}
}

// RegisterAdminRoutes mounts the HTTP admin surface on app: an unauthenticated health probe, and a
// connected-users listing plus broadcast-injection endpoint gated by the shared admin secret and the given
// rate limiter. It also installs the CORS policy and the terminal 404 fallback the surface requires.
func RegisterAdminRoutes(app *fiber.App, hub *Hub, healthCache HealthCache, presenceClient presence.Client, limiter *ratelimit.Limiter, adminKey, env, version string) {
	app.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"content-type", "x-admin-key", "x-forwarded-for", "x-forwarded-proto"},
		AllowCredentials: true,
	}))

	app.Get("/v1/health", healthHandler(hub, healthCache, presenceClient, env, version))

	// The admin-key and rate-limit gates are mounted on the two admin paths only, so an unknown /v1 path
	// falls through to the 404 fallback below instead of being answered with 401.
	adminAuth := requireAdminKey(adminKey)
	adminLimit := rateLimitMiddleware(limiter)
	app.Use("/v1/connected-users", adminAuth, adminLimit)
	app.Use("/v1/broadcast", adminAuth, adminLimit)
	app.Get("/v1/connected-users", connectedUsersHandler(hub, presenceClient))
	app.Post("/v1/broadcast", broadcastHandler(hub))

	// Fiber v3 treats app.Use() middleware registration as matching every request that reaches it, so this
	// terminal handler is what turns an otherwise-unmatched route into a proper 404 instead of an empty 200.
	app.Use(func(c fiber.Ctx) error {
		return httputil.Fail(c, fiber.StatusNotFound, "Not found")
	})
}

// requireAdminKey rejects any request whose x-admin-key header doesn't match adminKey exactly, using a
// constant-time comparison so the check's timing doesn't leak how many leading bytes matched.
func requireAdminKey(adminKey string) fiber.Handler {
	return func(c fiber.Ctx) error {
		got := c.Get("x-admin-key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(adminKey)) != 1 {
			return httputil.Fail(c, fiber.StatusUnauthorized, "Unauthorized")
		}
		return c.Next()
	}
}

// rateLimitMiddleware enforces the per-IP fixed window over the admin-surface routes it is mounted on. It
// keys on the same header-resolved address the WebSocket upgrade path uses, not Fiber's raw c.IP(), so the
// limit tracks the real client behind a reverse proxy rather than the proxy's own address.
func rateLimitMiddleware(limiter *ratelimit.Limiter) fiber.Handler {
	return func(c fiber.Ctx) error {
		key := "unknown"
		if ip := ResolveClientIP(c); ip != nil {
			key = *ip
		}
		if !limiter.Allow(key, time.Now().UnixMilli()) {
			return httputil.Fail(c, fiber.StatusTooManyRequests, "Too many requests")
		}
		return c.Next()
	}
}

func healthHandler(hub *Hub, healthCache HealthCache, presenceClient presence.Client, env, version string) fiber.Handler {
	return func(c fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
		defer cancel()
		now := time.Now().UnixMilli()

		startedAt, err := healthCache.StartedAt(ctx, now)
		if err != nil {
			return httputil.Fail(c, fiber.StatusInternalServerError, "Health check failed")
		}

		states := hub.reg.Snapshot()
		body := fiber.Map{
			"env":         env,
			"version":     version,
			"startedAt":   startedAt,
			"uptimeMs":    now - startedAt,
			"timestamp":   now,
			"connections": len(states),
			"uniqueUsers": len(registry.UniqueByUUID(states)),
		}
		if online, err := presenceClient.CountOnlineUsers(ctx); err == nil {
			body["onlineUsers"] = online
		}
		return httputil.Health(c, body)
	}
}

func connectedUsersHandler(hub *Hub, presenceClient presence.Client) fiber.Handler {
	return func(c fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
		defer cancel()

		var users []connectedUserView
		records, err := presenceClient.FetchOnlineUsers(ctx, presence.DefaultFetchLimit)
		if err != nil {
			for _, state := range registry.UniqueByUUID(hub.reg.Snapshot()) {
				users = append(users, viewFromState(state))
			}
		} else {
			for _, r := range records {
				users = append(users, viewFromRecord(r))
			}
		}
		if users == nil {
			users = []connectedUserView{}
		}

		return httputil.Success(c, fiber.Map{
			"users":       users,
			"connections": hub.ClientCount(),
		})
	}
}

func broadcastHandler(hub *Hub) fiber.Handler {
	return func(c fiber.Ctx) error {
		var body struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		if err := c.Bind().Body(&body); err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
		}
		if strings.TrimSpace(body.Type) == "" {
			return httputil.Fail(c, fiber.StatusBadRequest, "type is required")
		}

		frame := fiber.Map{"type": body.Type}
		for k, v := range body.Payload {
			frame[k] = v
		}
		hub.broadcast(frame)

		return httputil.Success(c, nil)
	}
}
