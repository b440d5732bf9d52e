package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arkadian/voicelounge/internal/models"
	"github.com/arkadian/voicelounge/internal/platform"
	apperrors "github.com/arkadian/voicelounge/pkg/errors"
	"github.com/arkadian/voicelounge/pkg/logger"
	"github.com/arkadian/voicelounge/pkg/metrics"
)

// autoKickCache is a read-through index of target -> owners who want that
// target removed. It is built lazily from the store on first use and, on any
// store error or write inconsistency, invalidated and rebuilt whole rather
// than patched.
type autoKickCache struct {
	mu       sync.RWMutex
	byTarget map[int64]map[int64]struct{}
	loaded   bool
}

func (c *autoKickCache) invalidate() {
	c.mu.Lock()
	c.byTarget = nil
	c.loaded = false
	c.mu.Unlock()
}

func (c *autoKickCache) resident() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

func (c *autoKickCache) ownersFor(targetID int64) (map[int64]struct{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return nil, false
	}
	owners := c.byTarget[targetID]
	cpy := make(map[int64]struct{}, len(owners))
	for id := range owners {
		cpy[id] = struct{}{}
	}
	return cpy, true
}

func (c *autoKickCache) rebuild(entries []models.AutoKick) {
	index := make(map[int64]map[int64]struct{}, len(entries))
	for _, e := range entries {
		owners, ok := index[e.TargetID]
		if !ok {
			owners = make(map[int64]struct{})
			index[e.TargetID] = owners
		}
		owners[e.OwnerID] = struct{}{}
	}

	c.mu.Lock()
	c.byTarget = index
	c.loaded = true
	c.mu.Unlock()
}

func (c *autoKickCache) add(ownerID, targetID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return
	}
	owners, ok := c.byTarget[targetID]
	if !ok {
		owners = make(map[int64]struct{})
		c.byTarget[targetID] = owners
	}
	owners[ownerID] = struct{}{}
}

func (c *autoKickCache) remove(ownerID, targetID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return
	}
	if owners, ok := c.byTarget[targetID]; ok {
		delete(owners, ownerID)
		if len(owners) == 0 {
			delete(c.byTarget, targetID)
		}
	}
}

// kickCheck is one queued evaluation: a member landed in a channel.
type kickCheck struct {
	member    platform.Member
	channelID int64
}

// AutoKickCoordinator owns the autokick list and the worker that enforces
// it. Enforcement is best-effort: the worker re-validates presence at
// dequeue time, logs failures and keeps going.
type AutoKickCoordinator struct {
	session platform.Session
	store   *AutoKickStore
	policy  *TierPolicy
	db      *gorm.DB

	cache    autoKickCache
	queue    chan kickCheck
	pause    time.Duration
	resolver PremiumResolver
	log      *zap.Logger
}

// AutoKickConfig tunes the coordinator. Resolver, when set, answers tier
// lookups for owners whose role list did not arrive with the event.
type AutoKickConfig struct {
	QueueSize int
	Pause     time.Duration
	Resolver  PremiumResolver
}

// NewAutoKickCoordinator constructs an AutoKickCoordinator. The db handle is
// only used for best-effort kick logging and may be nil in tests.
func NewAutoKickCoordinator(session platform.Session, store *AutoKickStore, policy *TierPolicy, db *gorm.DB, cfg AutoKickConfig) (*AutoKickCoordinator, error) {
	if session == nil {
		return nil, errors.New("autokick: session is required")
	}
	if store == nil {
		return nil, errors.New("autokick: store is required")
	}
	if policy == nil {
		return nil, errors.New("autokick: tier policy is required")
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 4096
	}
	pause := cfg.Pause
	if pause < 0 {
		pause = 0
	}

	return &AutoKickCoordinator{
		session:  session,
		store:    store,
		policy:   policy,
		db:       db,
		queue:    make(chan kickCheck, queueSize),
		pause:    pause,
		resolver: cfg.Resolver,
		log:      logger.WithModule("autokick"),
	}, nil
}

// ensureCache loads the full index from the store if it is not resident.
func (c *AutoKickCoordinator) ensureCache(ctx context.Context) error {
	if c.cache.resident() {
		return nil
	}

	entries, err := c.store.ListAll(ctx)
	if err != nil {
		c.cache.invalidate()
		return err
	}
	c.cache.rebuild(entries)
	return nil
}

// Add registers an autokick pair for the owner, enforcing the tier limit.
func (c *AutoKickCoordinator) Add(ctx context.Context, owner platform.Member, targetID int64) error {
	ctx = ensureContext(ctx)

	limit := c.policy.AutoKickLimit(owner.Roles)
	if limit <= 0 && len(owner.Roles) == 0 && c.resolver != nil {
		if tier, err := c.resolver.PremiumTier(ctx, owner.ID); err == nil && tier != nil {
			limit = tier.AutoKicks
		}
	}
	if limit <= 0 {
		return apperrors.ErrAutoKickLimit
	}

	count, err := c.store.CountByOwner(ctx, owner.ID)
	if err != nil {
		c.cache.invalidate()
		return err
	}
	if count >= int64(limit) {
		return apperrors.ErrAutoKickLimit
	}

	exists, err := c.store.Exists(ctx, owner.ID, targetID)
	if err != nil {
		c.cache.invalidate()
		return err
	}
	if exists {
		return apperrors.ErrAutoKickExists
	}

	if err := c.store.Add(ctx, owner.ID, targetID); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.ErrAutoKickExists
		}
		c.cache.invalidate()
		return err
	}

	c.cache.add(owner.ID, targetID)
	return nil
}

// Remove deletes an autokick pair.
func (c *AutoKickCoordinator) Remove(ctx context.Context, ownerID, targetID int64) error {
	ctx = ensureContext(ctx)

	removed, err := c.store.Remove(ctx, ownerID, targetID)
	if err != nil {
		c.cache.invalidate()
		return err
	}
	if !removed {
		return apperrors.ErrAutoKickMissing
	}

	c.cache.remove(ownerID, targetID)
	return nil
}

// Entries lists the owner's autokick pairs.
func (c *AutoKickCoordinator) Entries(ctx context.Context, ownerID int64) ([]models.AutoKick, error) {
	return c.store.ListByOwner(ensureContext(ctx), ownerID)
}

// Enqueue queues a presence change for evaluation. Full queues drop the
// item; presence changes re-enqueue the member soon enough.
func (c *AutoKickCoordinator) Enqueue(member platform.Member, channelID int64) {
	if channelID == 0 {
		return
	}

	select {
	case c.queue <- kickCheck{member: member, channelID: channelID}:
		metrics.AutoKickQueueDepth.Set(float64(len(c.queue)))
	default:
		metrics.AutoKickDropped.Inc()
		c.log.Warn("evaluation queue full, dropping join",
			zap.Int64("member_id", member.ID),
			zap.Int64("channel_id", channelID))
	}
}

// QueueDepth reports the number of pending evaluations.
func (c *AutoKickCoordinator) QueueDepth() int { return len(c.queue) }

// Run consumes the queue until the context is cancelled. It is the sole
// writer of kick actions, so kicks for one member never race.
func (c *AutoKickCoordinator) Run(ctx context.Context) {
	c.log.Info("autokick worker started")
	for {
		select {
		case <-ctx.Done():
			c.log.Info("autokick worker stopped")
			return
		case item := <-c.queue:
			metrics.AutoKickQueueDepth.Set(float64(len(c.queue)))
			c.evaluate(ctx, item)

			if c.pause > 0 {
				select {
				case <-ctx.Done():
					c.log.Info("autokick worker stopped")
					return
				case <-time.After(c.pause):
				}
			}
		}
	}
}

// evaluate re-validates presence and disconnects the member when any owner
// on their autokick list shares the channel.
func (c *AutoKickCoordinator) evaluate(ctx context.Context, item kickCheck) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("evaluation panicked", zap.Any("panic", r))
		}
	}()

	if err := c.ensureCache(ctx); err != nil {
		c.log.Warn("cache rebuild failed", zap.Error(err))
		return
	}

	owners, _ := c.cache.ownersFor(item.member.ID)
	if len(owners) == 0 {
		return
	}

	members, err := c.session.ChannelMembers(ctx, item.channelID)
	if err != nil {
		if !platform.IsNotFound(err) {
			c.log.Warn("presence check failed", zap.Int64("channel_id", item.channelID), zap.Error(err))
		}
		return
	}

	// The event may be stale; only act if the member is still here.
	present := false
	var matched []int64
	for _, m := range members {
		if m.ID == item.member.ID {
			present = true
			continue
		}
		if _, ok := owners[m.ID]; ok {
			matched = append(matched, m.ID)
		}
	}
	if !present || len(matched) == 0 {
		return
	}

	if err := c.session.Disconnect(ctx, item.member.ID); err != nil {
		c.log.Warn("disconnect failed",
			zap.Int64("member_id", item.member.ID),
			zap.Int64("channel_id", item.channelID),
			zap.Error(err))
		return
	}

	metrics.AutoKickDisconnects.Inc()
	c.log.Info("member autokicked",
		zap.Int64("member_id", item.member.ID),
		zap.Int64("channel_id", item.channelID),
		zap.Int64s("matched_owners", matched))

	c.recordKick(ctx, item, matched)
}

// recordKick writes a kick log row; failures are logged and ignored.
func (c *AutoKickCoordinator) recordKick(ctx context.Context, item kickCheck, matched []int64) {
	if c.db == nil {
		return
	}

	details, err := json.Marshal(map[string]any{
		"matched_owners": matched,
		"member_name":    item.member.Name,
	})
	if err != nil {
		return
	}

	row := models.KickLog{
		TargetID:  item.member.ID,
		ChannelID: item.channelID,
		Details:   details,
	}
	if err := c.db.WithContext(ctx).Create(&row).Error; err != nil {
		c.log.Warn("kick log write failed", zap.Error(err))
	}
}
