package aspect

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/wattframework/ampere/router"
)

// Bearer authentication errors.
var (
	ErrMissingToken      = errors.New("aspect: missing authorization token")
	ErrInvalidAuthHeader = errors.New("aspect: invalid authorization header format")
	ErrInvalidToken      = errors.New("aspect: invalid token")
	ErrInvalidClaims     = errors.New("aspect: invalid token claims")
)

// BearerConfig configures the bearer-auth aspect.
type BearerConfig struct {
	Secret     []byte
	Algorithm  string // default HS256
	ContextKey string // default "claims"
	CacheTTL   time.Duration // default 5 minutes
}

// Bearer builds a JWT bearer-auth Aspect: it validates the Authorization
// header's "Bearer <token>" value and, on success, stores the parsed
// claims under ContextKey for the terminal handler to read.
//
// Grounded on bolt/middleware/jwt/jwt.go (token cache with TTL sweep,
// HS-algorithm check against config.Algorithm), trimmed from a full
// middleware-config surface (skip-paths, custom error handler) down to
// one aspect — path-based bypass and error shaping are the router/
// aspect chain's job, not this aspect's.
func Bearer(config BearerConfig) Aspect {
	if config.Algorithm == "" {
		config.Algorithm = "HS256"
	}
	if config.ContextKey == "" {
		config.ContextKey = "claims"
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = 5 * time.Minute
	}

	cache := &tokenCache{tokens: make(map[string]*cacheEntry), ttl: config.CacheTTL}
	stop := make(chan struct{})
	go cache.sweep(stop)

	return Aspect{
		Name: "bearer",
		Before: func(ctx router.Context) (bool, error) {
			authHeader := ctx.Header().GetString("Authorization")
			if authHeader == "" {
				return false, ErrMissingToken
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				return false, ErrInvalidAuthHeader
			}
			tokenString := parts[1]

			if claims, ok := cache.get(tokenString); ok {
				ctx.Set(config.ContextKey, claims)
				return false, nil
			}

			token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
				if t.Method.Alg() != config.Algorithm {
					return nil, ErrInvalidToken
				}
				return config.Secret, nil
			})
			if err != nil || !token.Valid {
				return false, ErrInvalidToken
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				return false, ErrInvalidClaims
			}
			cache.set(tokenString, claims)
			ctx.Set(config.ContextKey, claims)
			return false, nil
		},
	}
}

// tokenCache mirrors the teacher's cleanup-goroutine TTL cache; its sweep
// goroutine runs for the process lifetime, same as jwt.go's cleanup().
type tokenCache struct {
	mu     sync.RWMutex
	tokens map[string]*cacheEntry
	ttl    time.Duration
}

type cacheEntry struct {
	claims    jwt.MapClaims
	expiresAt time.Time
}

func (tc *tokenCache) get(token string) (jwt.MapClaims, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	entry, ok := tc.tokens[token]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.claims, true
}

func (tc *tokenCache) set(token string, claims jwt.MapClaims) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.tokens[token] = &cacheEntry{claims: claims, expiresAt: time.Now().Add(tc.ttl)}
}

func (tc *tokenCache) sweep(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			tc.mu.Lock()
			for token, entry := range tc.tokens {
				if now.After(entry.expiresAt) {
					delete(tc.tokens, token)
				}
			}
			tc.mu.Unlock()
		}
	}
}
