package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/arkadian/voicelounge/internal/models"
)

// AutoKickStore persists owner→target exclusion pairs.
type AutoKickStore struct {
	db *gorm.DB
}

// NewAutoKickStore constructs an AutoKickStore using the provided database handle.
func NewAutoKickStore(db *gorm.DB) (*AutoKickStore, error) {
	if db == nil {
		return nil, errors.New("autokick store: db is required")
	}
	return &AutoKickStore{db: db}, nil
}

// Add inserts the pair. Returns gorm.ErrDuplicatedKey semantics via
// isUniqueConstraintError for callers that need to distinguish duplicates.
func (s *AutoKickStore) Add(ctx context.Context, ownerID, targetID int64) error {
	ctx = ensureContext(ctx)

	entry := models.AutoKick{
		OwnerID:   ownerID,
		TargetID:  targetID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		if isUniqueConstraintError(err) {
			return gorm.ErrDuplicatedKey
		}
		return fmt.Errorf("autokick store: add: %w", err)
	}
	return nil
}

// Remove deletes the pair, reporting whether a row was actually removed.
func (s *AutoKickStore) Remove(ctx context.Context, ownerID, targetID int64) (bool, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("owner_id = ? AND target_id = ?", ownerID, targetID).
		Delete(&models.AutoKick{})
	if result.Error != nil {
		return false, fmt.Errorf("autokick store: remove: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Exists reports whether the pair is stored.
func (s *AutoKickStore) Exists(ctx context.Context, ownerID, targetID int64) (bool, error) {
	ctx = ensureContext(ctx)

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.AutoKick{}).
		Where("owner_id = ? AND target_id = ?", ownerID, targetID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("autokick store: exists: %w", err)
	}
	return count > 0, nil
}

// CountByOwner returns the number of entries the owner stores.
func (s *AutoKickStore) CountByOwner(ctx context.Context, ownerID int64) (int64, error) {
	ctx = ensureContext(ctx)

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.AutoKick{}).
		Where("owner_id = ?", ownerID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("autokick store: count: %w", err)
	}
	return count, nil
}

// ListByOwner returns the owner's entries, oldest first.
func (s *AutoKickStore) ListByOwner(ctx context.Context, ownerID int64) ([]models.AutoKick, error) {
	ctx = ensureContext(ctx)

	var rows []models.AutoKick
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("autokick store: list: %w", err)
	}
	return rows, nil
}

// ListAll returns every stored pair; the coordinator's cache rebuild uses it.
func (s *AutoKickStore) ListAll(ctx context.Context) ([]models.AutoKick, error) {
	ctx = ensureContext(ctx)

	var rows []models.AutoKick
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("autokick store: list all: %w", err)
	}
	return rows, nil
}
