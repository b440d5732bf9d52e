package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// KickLog records one forced disconnect performed by the autokick worker.
// Writes are best-effort; the worker never fails a kick over logging.
type KickLog struct {
	ID        string         `gorm:"primaryKey;type:uuid" json:"id"`
	TargetID  int64          `gorm:"index;not null" json:"target_id"`
	ChannelID int64          `gorm:"not null" json:"channel_id"`
	Details   datatypes.JSON `json:"details"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

// BeforeCreate assigns a UUID identifier when none is set.
func (k *KickLog) BeforeCreate(tx *gorm.DB) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	return nil
}
