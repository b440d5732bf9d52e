package models

import "time"

// ChannelPermission is one owner's stored grant/denial toward one target on
// their active channel. Masks use the platform bit layout and are kept
// disjoint by the store's merge rule. The composite key mirrors the
// platform's (owner, target) pairing; targets are member ids or the guild's
// everyone id.
type ChannelPermission struct {
	OwnerID   int64     `gorm:"primaryKey;autoIncrement:false" json:"owner_id"`
	TargetID  int64     `gorm:"primaryKey;autoIncrement:false" json:"target_id"`
	AllowMask int64     `gorm:"not null" json:"allow_mask"`
	DenyMask  int64     `gorm:"not null" json:"deny_mask"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

// MaxPermissionsPerOwner is the hard cap on stored rows per owner. Insertion
// past the cap evicts the oldest row that is neither a moderator grant nor
// the everyone row.
const MaxPermissionsPerOwner = 95
