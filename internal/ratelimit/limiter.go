package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/querypilot/backend/internal/storage/models"
	"github.com/querypilot/backend/pkg/logger"
	"go.uber.org/zap"
)

type Status string

const (
	StatusAllowed        Status = "allowed"
	StatusExceeded       Status = "exceeded"
	StatusCooldownActive Status = "cooldown_active"
)

// Result is the outcome of one rate-limit check. RetryAfterSeconds is set
// for the two blocking statuses.
type Result struct {
	Status            Status
	RetryAfterSeconds int
}

func (r Result) Allowed() bool {
	return r.Status == StatusAllowed
}

type Config struct {
	MaxQueriesPerHour        int
	CooldownAfterBlocks      int
	BlockDurationMinutes     int
	SessionExpirationMinutes int
}

// SessionStore persists sessions across restarts. The in-memory table is
// authoritative at runtime; writes go through to the store best-effort.
type SessionStore interface {
	GetRateLimitSession(ctx context.Context, collectionID int64) (*models.RateLimitSession, error)
	UpsertRateLimitSession(ctx context.Context, session *models.RateLimitSession) error
}

// Limiter keeps one session per collection with an hour-scoped quota and a
// block-triggered cooldown. Constructed once at process start and injected
// into the pipeline.
type Limiter struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[int64]*models.RateLimitSession
	store    SessionStore
	now      func() time.Time
}

func NewLimiter(cfg Config, store SessionStore) *Limiter {
	if cfg.MaxQueriesPerHour <= 0 {
		cfg.MaxQueriesPerHour = 50
	}
	if cfg.CooldownAfterBlocks <= 0 {
		cfg.CooldownAfterBlocks = 3
	}
	if cfg.BlockDurationMinutes <= 0 {
		cfg.BlockDurationMinutes = 15
	}
	if cfg.SessionExpirationMinutes <= 0 {
		cfg.SessionExpirationMinutes = 60
	}
	return &Limiter{
		cfg:      cfg,
		sessions: make(map[int64]*models.RateLimitSession),
		store:    store,
		now:      time.Now,
	}
}

// CheckRateLimit evaluates the session for a collection. Expired sessions
// reset and allow; cooldown takes precedence over the hourly quota.
func (l *Limiter) CheckRateLimit(ctx context.Context, collectionID int64) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	session := l.session(ctx, collectionID, now)

	if now.Sub(session.LastUsedAt) > time.Duration(l.cfg.SessionExpirationMinutes)*time.Minute {
		session.QueriesCount = 0
		session.BlockedCount = 0
		session.StartedAt = now
		session.LastUsedAt = now
		l.persist(ctx, session)
		return Result{Status: StatusAllowed}
	}

	if session.BlockedCount >= l.cfg.CooldownAfterBlocks {
		cooldownEnd := session.LastUsedAt.Add(time.Duration(l.cfg.BlockDurationMinutes) * time.Minute)
		if now.Before(cooldownEnd) {
			return Result{
				Status:            StatusCooldownActive,
				RetryAfterSeconds: retryAfter(now, cooldownEnd),
			}
		}
	}

	if session.QueriesCount >= l.cfg.MaxQueriesPerHour {
		windowEnd := session.StartedAt.Add(time.Hour)
		return Result{
			Status:            StatusExceeded,
			RetryAfterSeconds: retryAfter(now, windowEnd),
		}
	}

	return Result{Status: StatusAllowed}
}

// RecordQuery must be called for every allowed and executed query.
func (l *Limiter) RecordQuery(ctx context.Context, collectionID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	session := l.session(ctx, collectionID, now)
	session.QueriesCount++
	session.LastUsedAt = now
	l.persist(ctx, session)
}

// RecordBlock must be called when a query that passed rate-limiting fails
// during execution. Repeated failures escalate into cooldown.
func (l *Limiter) RecordBlock(ctx context.Context, collectionID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	session := l.session(ctx, collectionID, now)
	session.BlockedCount++
	session.LastUsedAt = now
	l.persist(ctx, session)

	logger.Warn("Query block recorded",
		zap.Int64("collection_id", collectionID),
		zap.Int("blocked_count", session.BlockedCount),
	)
}

// session returns the in-memory session, loading from the store on first
// touch and creating lazily when none exists. Caller holds the mutex.
func (l *Limiter) session(ctx context.Context, collectionID int64, now time.Time) *models.RateLimitSession {
	if s, ok := l.sessions[collectionID]; ok {
		return s
	}

	if l.store != nil {
		stored, err := l.store.GetRateLimitSession(ctx, collectionID)
		if err != nil {
			logger.Error("Failed to load rate limit session", zap.Error(err))
		} else if stored != nil {
			l.sessions[collectionID] = stored
			return stored
		}
	}

	s := &models.RateLimitSession{
		CollectionID: collectionID,
		StartedAt:    now,
		LastUsedAt:   now,
	}
	l.sessions[collectionID] = s
	return s
}

// persist is best-effort: accounting failures never abort the request.
func (l *Limiter) persist(ctx context.Context, session *models.RateLimitSession) {
	if l.store == nil {
		return
	}
	if err := l.store.UpsertRateLimitSession(ctx, session); err != nil {
		logger.Error("Failed to persist rate limit session",
			zap.Int64("collection_id", session.CollectionID),
			zap.Error(err),
		)
	}
}

func retryAfter(now, until time.Time) int {
	seconds := int(until.Sub(now).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
