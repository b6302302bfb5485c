package middlewarectx

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/billing-ledger/internal/http/response"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserRateLimiter token bucket на каждого пользователя.
type UserRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
}

// NewUserRateLimiter создаёт лимитер. Бакеты неактивных пользователей удаляются через idleTTL.
func NewUserRateLimiter(rps float64, burst int, idleTTL time.Duration) *UserRateLimiter {
	return &UserRateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		idleTTL:  idleTTL,
	}
}

// Allow расходует один токен пользователя.
func (l *UserRateLimiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	v, ok := l.visitors[userID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[userID] = v
	}
	v.lastSeen = now

	if l.idleTTL > 0 && len(l.visitors) > 1024 {
		for id, other := range l.visitors {
			if now.Sub(other.lastSeen) > l.idleTTL {
				delete(l.visitors, id)
			}
		}
	}
	return v.limiter.Allow()
}

// RateLimitMiddleware ограничивает частоту запросов пользователя. Ставится после JWTMiddleware.
func RateLimitMiddleware(limiter *UserRateLimiter, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserID(r.Context())
			if !limiter.Allow(userID) {
				log.Warn("too many requests", slog.String("user_id", userID))
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, response.Error("too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
