package models

import "time"

// AutoKick records "owner wants target removed from the owner's channel
// whenever both are present". Entries never expire on their own.
type AutoKick struct {
	OwnerID   int64     `gorm:"primaryKey;autoIncrement:false" json:"owner_id"`
	TargetID  int64     `gorm:"primaryKey;autoIncrement:false" json:"target_id"`
	CreatedAt time.Time `json:"created_at"`
}
