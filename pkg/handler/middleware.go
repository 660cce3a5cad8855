package handler

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const userIDKey = "user_id"

// Authenticator resolves an access token to a user id.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

// AuthRequired rejects requests without a valid access token and stores the
// caller's user id in the context. The token comes from an
// Authorization: Bearer header or, for WebSocket upgrades, the token query param.
func AuthRequired(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing access token"})
			return
		}
		userID, err := auth.Authenticate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(c.Query("token"))
}

// UserID returns the authenticated caller set by AuthRequired.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// CORS allows the configured origins plus common localhost dev origins.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// If there's no Origin header, it's not a browser CORS request.
		if origin != "" {
			ok := allowed[origin] ||
				strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1")
			if !ok {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// PromptLimiter is a token bucket per user.
type PromptLimiter struct {
	perMinute int
	burst     int

	mu      sync.Mutex
	clients map[string]*limitedClient
}

type limitedClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdleTTL = 10 * time.Minute

// NewPromptLimiter allows perMinute requests per user with the given burst.
// Idle entries are swept until ctx is done.
func NewPromptLimiter(ctx context.Context, perMinute, burst int) *PromptLimiter {
	l := &PromptLimiter{perMinute: perMinute, burst: burst, clients: make(map[string]*limitedClient)}
	go l.sweep(ctx)
	return l
}

func (l *PromptLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			for key, c := range l.clients {
				if time.Since(c.lastSeen) > limiterIdleTTL {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Allow reports whether key may make another request now.
func (l *PromptLimiter) Allow(key string) bool {
	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &limitedClient{limiter: rate.NewLimiter(rate.Limit(l.perMinute)/60.0, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = time.Now()
	limiter := c.limiter
	l.mu.Unlock()
	return limiter.Allow()
}

// Middleware limits by authenticated user; it must run after AuthRequired.
func (l *PromptLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(UserID(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
