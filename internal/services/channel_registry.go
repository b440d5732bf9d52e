package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arkadian/voicelounge/internal/models"
	"github.com/arkadian/voicelounge/pkg/metrics"
)

// channelEntry is the in-memory record for one managed channel.
type channelEntry struct {
	ownerID    int64
	categoryID int64
}

// ChannelRegistry tracks the ephemeral channels this process manages. The
// in-memory index answers the hot-path questions (is this channel managed,
// who owns it, which category it lives in); the table lets a restarted
// process sweep leftovers.
type ChannelRegistry struct {
	db *gorm.DB

	mu      sync.RWMutex
	entries map[int64]channelEntry // channel id -> entry
}

// NewChannelRegistry constructs a registry and loads any persisted rows into
// the in-memory index.
func NewChannelRegistry(db *gorm.DB) (*ChannelRegistry, error) {
	if db == nil {
		return nil, errors.New("channel registry: db is required")
	}

	r := &ChannelRegistry{
		db:      db,
		entries: make(map[int64]channelEntry),
	}

	var rows []models.ActiveChannel
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("channel registry: load: %w", err)
	}
	for _, row := range rows {
		r.entries[row.ChannelID] = channelEntry{ownerID: row.OwnerID, categoryID: row.CategoryID}
	}
	metrics.ActiveChannels.Set(float64(len(r.entries)))

	return r, nil
}

// Register records a spawned channel.
func (r *ChannelRegistry) Register(ctx context.Context, channelID, ownerID, categoryID int64) error {
	ctx = ensureContext(ctx)

	row := models.ActiveChannel{
		ChannelID:  channelID,
		OwnerID:    ownerID,
		CategoryID: categoryID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner_id", "category_id"}),
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("channel registry: register: %w", err)
	}

	r.mu.Lock()
	r.entries[channelID] = channelEntry{ownerID: ownerID, categoryID: categoryID}
	metrics.ActiveChannels.Set(float64(len(r.entries)))
	r.mu.Unlock()

	return nil
}

// Unregister forgets a channel. Missing rows are a no-op.
func (r *ChannelRegistry) Unregister(ctx context.Context, channelID int64) error {
	ctx = ensureContext(ctx)

	if err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Delete(&models.ActiveChannel{}).Error; err != nil {
		return fmt.Errorf("channel registry: unregister: %w", err)
	}

	r.mu.Lock()
	delete(r.entries, channelID)
	metrics.ActiveChannels.Set(float64(len(r.entries)))
	r.mu.Unlock()

	return nil
}

// Owner returns the owner of a managed channel.
func (r *ChannelRegistry) Owner(channelID int64) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[channelID]
	return entry.ownerID, ok
}

// Category returns the category a managed channel was spawned into.
func (r *ChannelRegistry) Category(channelID int64) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[channelID]
	return entry.categoryID, ok
}

// ChannelOf returns the channel currently owned by the member, if any.
func (r *ChannelRegistry) ChannelOf(ownerID int64) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for channelID, entry := range r.entries {
		if entry.ownerID == ownerID {
			return channelID, true
		}
	}
	return 0, false
}

// IsManaged reports whether the channel was spawned by this bot.
func (r *ChannelRegistry) IsManaged(channelID int64) bool {
	_, ok := r.Owner(channelID)
	return ok
}

// Count returns the number of registered channels.
func (r *ChannelRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot lists the registered channel ids.
func (r *ChannelRegistry) Snapshot() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int64, 0, len(r.entries))
	for channelID := range r.entries {
		out = append(out, channelID)
	}
	return out
}
