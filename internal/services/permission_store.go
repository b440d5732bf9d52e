package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arkadian/voicelounge/internal/models"
	"github.com/arkadian/voicelounge/internal/platform"
	apperrors "github.com/arkadian/voicelounge/pkg/errors"
)

// PermissionStore persists per-owner permission rows with a hard capacity
// bound. Eviction past the cap removes the owner's oldest row by updated_at
// that is neither a moderator grant nor the everyone row; those two kinds
// survive preferentially. The cutoff is LRU-by-write: reads never touch
// updated_at.
//
// Reads go through a per-owner cache so the hot lookups on channel spawn and
// permission mutation skip the database; every mutation invalidates the
// touched owner.
type PermissionStore struct {
	db    *gorm.DB
	cache *permissionCache
}

// NewPermissionStore constructs a PermissionStore using the provided database handle.
func NewPermissionStore(db *gorm.DB) (*PermissionStore, error) {
	if db == nil {
		return nil, errors.New("permission store: db is required")
	}
	return &PermissionStore{db: db, cache: newPermissionCache()}, nil
}

// Upsert merges the deltas into the (owner, target) row, creating it when
// absent, then enforces the per-owner cap. The merge keeps the masks
// disjoint: allow bits strip matching deny bits and vice versa.
func (s *PermissionStore) Upsert(ctx context.Context, ownerID, targetID int64, allowDelta, denyDelta int64, everyoneID int64) (*models.ChannelPermission, error) {
	ctx = ensureContext(ctx)

	var row models.ChannelPermission

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Take(&row, "owner_id = ? AND target_id = ?", ownerID, targetID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = models.ChannelPermission{
				OwnerID:   ownerID,
				TargetID:  targetID,
				AllowMask: allowDelta &^ denyDelta,
				DenyMask:  denyDelta &^ allowDelta,
				UpdatedAt: time.Now().UTC(),
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "owner_id"}, {Name: "target_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"allow_mask", "deny_mask", "updated_at"}),
			}).Create(&row).Error; err != nil {
				return fmt.Errorf("insert: %w", err)
			}
		case err != nil:
			return fmt.Errorf("load: %w", err)
		default:
			row.AllowMask = (row.AllowMask | allowDelta) &^ denyDelta
			row.DenyMask = (row.DenyMask | denyDelta) &^ allowDelta
			row.UpdatedAt = time.Now().UTC()
			if err := tx.Save(&row).Error; err != nil {
				return fmt.Errorf("update: %w", err)
			}
		}

		return s.enforceCap(tx, ownerID, everyoneID)
	})
	s.cache.invalidate(ownerID)
	if err != nil {
		return nil, fmt.Errorf("permission store: upsert: %w", err)
	}

	return &row, nil
}

// enforceCap deletes the oldest evictable row while the owner is over the cap.
func (s *PermissionStore) enforceCap(tx *gorm.DB, ownerID, everyoneID int64) error {
	moderatorBit := platform.PermModerator.Bit()

	for {
		var count int64
		if err := tx.Model(&models.ChannelPermission{}).
			Where("owner_id = ?", ownerID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("count: %w", err)
		}
		if count <= models.MaxPermissionsPerOwner {
			return nil
		}

		var victim models.ChannelPermission
		err := tx.Where("owner_id = ? AND target_id != ? AND allow_mask & ? = 0", ownerID, everyoneID, moderatorBit).
			Order("updated_at ASC").
			Take(&victim).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Every surviving row is a moderator grant or the everyone row;
			// the cap cannot shrink, so the write that pushed past it fails.
			return apperrors.ErrPermissionCap
		}
		if err != nil {
			return fmt.Errorf("select victim: %w", err)
		}

		if err := tx.Where("owner_id = ? AND target_id = ?", victim.OwnerID, victim.TargetID).
			Delete(&models.ChannelPermission{}).Error; err != nil {
			return fmt.Errorf("evict: %w", err)
		}
	}
}

// ClearBits strips the mask from both columns of the (owner, target) row and
// deletes the row once both masks are empty. Used when a permission resolves
// to the unset state.
func (s *PermissionStore) ClearBits(ctx context.Context, ownerID, targetID int64, mask int64) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.ChannelPermission
		err := tx.Take(&row, "owner_id = ? AND target_id = ?", ownerID, targetID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load: %w", err)
		}

		row.AllowMask &^= mask
		row.DenyMask &^= mask

		if row.AllowMask == 0 && row.DenyMask == 0 {
			return tx.Where("owner_id = ? AND target_id = ?", ownerID, targetID).
				Delete(&models.ChannelPermission{}).Error
		}

		row.UpdatedAt = time.Now().UTC()
		return tx.Save(&row).Error
	})
	s.cache.invalidate(ownerID)
	if err != nil {
		return fmt.Errorf("permission store: clear bits: %w", err)
	}
	return nil
}

// Get returns the stored row for (owner, target), or nil when absent. A
// resident owner is answered from the cache; the cache holds all of an
// owner's rows, so a miss there is a miss outright.
func (s *PermissionStore) Get(ctx context.Context, ownerID, targetID int64) (*models.ChannelPermission, error) {
	ctx = ensureContext(ctx)

	if rows, ok := s.cache.rowsFor(ownerID); ok {
		for i := range rows {
			if rows[i].TargetID == targetID {
				return &rows[i], nil
			}
		}
		return nil, nil
	}

	var row models.ChannelPermission
	err := s.db.WithContext(ctx).Take(&row, "owner_id = ? AND target_id = ?", ownerID, targetID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("permission store: get: %w", err)
	}
	return &row, nil
}

// ListByOwner returns all stored rows for the owner, newest first, loading
// the owner into the cache on first read.
func (s *PermissionStore) ListByOwner(ctx context.Context, ownerID int64) ([]models.ChannelPermission, error) {
	ctx = ensureContext(ctx)

	if rows, ok := s.cache.rowsFor(ownerID); ok {
		return rows, nil
	}

	var rows []models.ChannelPermission
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Limit(models.MaxPermissionsPerOwner).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("permission store: list: %w", err)
	}

	s.cache.store(ownerID, rows)
	return rows, nil
}

// CountByOwner returns the number of stored rows for the owner.
func (s *PermissionStore) CountByOwner(ctx context.Context, ownerID int64) (int64, error) {
	ctx = ensureContext(ctx)

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.ChannelPermission{}).
		Where("owner_id = ?", ownerID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("permission store: count: %w", err)
	}
	return count, nil
}

// Remove deletes the exact (owner, target) row.
func (s *PermissionStore) Remove(ctx context.Context, ownerID, targetID int64) error {
	ctx = ensureContext(ctx)

	if err := s.db.WithContext(ctx).
		Where("owner_id = ? AND target_id = ?", ownerID, targetID).
		Delete(&models.ChannelPermission{}).Error; err != nil {
		return fmt.Errorf("permission store: remove: %w", err)
	}
	s.cache.invalidate(ownerID)
	return nil
}

// RemoveAll deletes every row the owner stores. Used on channel reset.
func (s *PermissionStore) RemoveAll(ctx context.Context, ownerID int64) error {
	ctx = ensureContext(ctx)

	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Delete(&models.ChannelPermission{}).Error; err != nil {
		return fmt.Errorf("permission store: remove all: %w", err)
	}
	s.cache.invalidate(ownerID)
	return nil
}

// RemoveModeratorGrantsBy strips the moderator bit from every row the owner
// stores, deleting rows left empty.
func (s *PermissionStore) RemoveModeratorGrantsBy(ctx context.Context, ownerID int64) error {
	err := s.removeModeratorGrants(ctx, "owner_id = ?", ownerID)
	s.cache.invalidate(ownerID)
	return err
}

// RemoveModeratorGrantsFor strips the moderator bit from every row aimed at
// the target, across all owners. Used when a member loses their standing.
func (s *PermissionStore) RemoveModeratorGrantsFor(ctx context.Context, targetID int64) error {
	err := s.removeModeratorGrants(ctx, "target_id = ?", targetID)
	// The target appears under arbitrary owners; drop everything.
	s.cache.invalidateAll()
	return err
}

func (s *PermissionStore) removeModeratorGrants(ctx context.Context, cond string, arg int64) error {
	ctx = ensureContext(ctx)
	moderatorBit := platform.PermModerator.Bit()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ChannelPermission{}).
			Where(cond, arg).
			Where("allow_mask & ? != 0 OR deny_mask & ? != 0", moderatorBit, moderatorBit).
			Updates(map[string]any{
				"allow_mask": gorm.Expr("allow_mask & ?", ^moderatorBit),
				"deny_mask":  gorm.Expr("deny_mask & ?", ^moderatorBit),
				"updated_at": time.Now().UTC(),
			}).Error; err != nil {
			return err
		}

		return tx.Where(cond, arg).
			Where("allow_mask = 0 AND deny_mask = 0").
			Delete(&models.ChannelPermission{}).Error
	})
	if err != nil {
		return fmt.Errorf("permission store: remove moderator grants: %w", err)
	}
	return nil
}
