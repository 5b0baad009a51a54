package cache

import (
	"context"
	"strings"
	"time"

	libcache "github.com/eko/gocache/lib/v4/cache"
	libstore "github.com/eko/gocache/lib/v4/store"
	gocacheStore "github.com/eko/gocache/store/go_cache/v4"
	redisStore "github.com/eko/gocache/store/redis/v4"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/charlesng35/inviteqr/internal/models"
	"github.com/charlesng35/inviteqr/pkg/logger"
)

const (
	defaultInviteTTL = 5 * time.Minute
	inviteKeyPrefix  = redisKeyPrefix + "invite:code:"
)

// InviteCache is a read-through cache of invite records keyed by invite code.
// Cache failures are never fatal: a failed read is treated as a miss and a
// failed write is logged and dropped.
type InviteCache struct {
	cache *libcache.Cache[string]
	ttl   time.Duration
}

// NewInviteCache wraps any gocache store.
func NewInviteCache(store libstore.StoreInterface, ttl time.Duration) *InviteCache {
	if ttl <= 0 {
		ttl = defaultInviteTTL
	}
	return &InviteCache{
		cache: libcache.New[string](store),
		ttl:   ttl,
	}
}

// NewRedisInviteCache stores invites in Redis.
func NewRedisInviteCache(client *redis.Client, ttl time.Duration) *InviteCache {
	return NewInviteCache(redisStore.NewRedis(client), ttl)
}

// NewMemoryInviteCache stores invites in process memory.
func NewMemoryInviteCache(ttl time.Duration) *InviteCache {
	if ttl <= 0 {
		ttl = defaultInviteTTL
	}
	return NewInviteCache(gocacheStore.NewGoCache(gocache.New(ttl, 2*ttl)), ttl)
}

// Get returns the cached invite for code, if present.
func (c *InviteCache) Get(ctx context.Context, code string) (*models.Invite, bool) {
	if c == nil {
		return nil, false
	}

	raw, err := c.cache.Get(ctx, inviteKey(code))
	if err != nil || raw == "" {
		return nil, false
	}

	var invite models.Invite
	if err := msgpack.Unmarshal([]byte(raw), &invite); err != nil {
		logger.WithModule("cache").Warn("discarding undecodable invite entry",
			zap.String("invite_code", code),
			zap.Error(err),
		)
		_ = c.cache.Delete(ctx, inviteKey(code))
		return nil, false
	}
	return &invite, true
}

// Set stores invite under its code.
func (c *InviteCache) Set(ctx context.Context, invite *models.Invite) {
	if c == nil || invite == nil || invite.InviteCode == "" {
		return
	}

	encoded, err := msgpack.Marshal(invite)
	if err != nil {
		logger.WithModule("cache").Warn("encode invite", zap.Error(err))
		return
	}

	if err := c.cache.Set(ctx, inviteKey(invite.InviteCode), string(encoded), libstore.WithExpiration(c.ttl)); err != nil {
		logger.WithModule("cache").Warn("store invite",
			zap.String("invite_code", invite.InviteCode),
			zap.Error(err),
		)
	}
}

// Invalidate drops the cached copy of code.
func (c *InviteCache) Invalidate(ctx context.Context, code string) {
	if c == nil {
		return
	}
	if err := c.cache.Delete(ctx, inviteKey(code)); err != nil {
		logger.WithModule("cache").Debug("invalidate invite",
			zap.String("invite_code", code),
			zap.Error(err),
		)
	}
}

func inviteKey(code string) string {
	return inviteKeyPrefix + strings.TrimSpace(code)
}
