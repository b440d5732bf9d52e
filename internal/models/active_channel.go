package models

import "time"

// ActiveChannel mirrors the in-memory channel registry so a restarted
// process can sweep channels it spawned before going down.
type ActiveChannel struct {
	ChannelID  int64     `gorm:"primaryKey;autoIncrement:false" json:"channel_id"`
	OwnerID    int64     `gorm:"index;not null" json:"owner_id"`
	CategoryID int64     `json:"category_id"`
	CreatedAt  time.Time `json:"created_at"`
}
