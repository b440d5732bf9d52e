package platform

// The bot reasons about permissions as a small ordered set of named boolean
// flags. This file is the only place that knows the platform's bit layout;
// everything else stores and compares masks opaquely.

// Permission names a single boolean channel permission.
type Permission string

const (
	// PermView lets the target see the channel.
	PermView Permission = "view"
	// PermConnect lets the target join the channel.
	PermConnect Permission = "connect"
	// PermSpeak lets the target transmit voice.
	PermSpeak Permission = "speak"
	// PermStream lets the target share video or go live.
	PermStream Permission = "stream"
	// PermSendMessages covers the channel's text surface.
	PermSendMessages Permission = "send-messages"
	// PermVoiceActivity lets the target use voice activation instead of push-to-talk.
	PermVoiceActivity Permission = "voice-activity"
	// PermModerator is the moderator grant ("manage messages" on the platform).
	PermModerator Permission = "moderator"
	// PermPrioritySpeaker marks the channel owner.
	PermPrioritySpeaker Permission = "priority"
)

// permissionBits maps internal permission names onto the platform's bit layout.
var permissionBits = map[Permission]int64{
	PermPrioritySpeaker: 1 << 8,
	PermStream:          1 << 9,
	PermView:            1 << 10,
	PermSendMessages:    1 << 11,
	PermModerator:       1 << 13,
	PermConnect:         1 << 20,
	PermSpeak:           1 << 21,
	PermVoiceActivity:   1 << 25,
}

// orderedPermissions fixes the enumeration order for listings and help text.
var orderedPermissions = []Permission{
	PermView,
	PermConnect,
	PermSpeak,
	PermStream,
	PermSendMessages,
	PermVoiceActivity,
	PermModerator,
	PermPrioritySpeaker,
}

// Permissions returns all named permissions in their canonical order.
func Permissions() []Permission {
	out := make([]Permission, len(orderedPermissions))
	copy(out, orderedPermissions)
	return out
}

// LookupPermission resolves a user-supplied permission name.
func LookupPermission(name string) (Permission, bool) {
	p := Permission(name)
	_, ok := permissionBits[p]
	return p, ok
}

// Bit returns the platform bit for the named permission. Unknown names
// return zero.
func (p Permission) Bit() int64 {
	return permissionBits[p]
}

// Mask folds a set of permissions into a platform bitmask.
func Mask(perms ...Permission) int64 {
	var mask int64
	for _, p := range perms {
		mask |= p.Bit()
	}
	return mask
}

// Has reports whether the named permission's bit is set in mask.
func (p Permission) Has(mask int64) bool {
	bit := p.Bit()
	return bit != 0 && mask&bit == bit
}

// Value resolves the tri-state value of the permission inside an overwrite:
// true when allowed, false when denied, nil when inherited.
func (p Permission) Value(ow Overwrite) *bool {
	switch {
	case p.Has(ow.Allow):
		v := true
		return &v
	case p.Has(ow.Deny):
		v := false
		return &v
	default:
		return nil
	}
}

// PermissionLevel is the derived standing of a member on a channel.
type PermissionLevel int

const (
	// LevelNone is a regular participant.
	LevelNone PermissionLevel = iota
	// LevelMod holds the moderator grant without priority speaker.
	LevelMod
	// LevelOwner holds the priority-speaker overwrite.
	LevelOwner
)

func (l PermissionLevel) String() string {
	switch l {
	case LevelOwner:
		return "owner"
	case LevelMod:
		return "mod"
	default:
		return "none"
	}
}

// LevelOf derives a member's permission level from the channel's overwrites.
func LevelOf(channel *Channel, memberID int64) PermissionLevel {
	if channel == nil {
		return LevelNone
	}

	ow, ok := channel.Overwrite(memberID, OverwriteMember)
	if !ok {
		return LevelNone
	}

	switch {
	case PermPrioritySpeaker.Has(ow.Allow):
		return LevelOwner
	case PermModerator.Has(ow.Allow):
		return LevelMod
	default:
		return LevelNone
	}
}

// ModeratorCount counts members holding the moderator grant without
// priority speaker across the channel's member overwrites.
func ModeratorCount(channel *Channel) int {
	if channel == nil {
		return 0
	}

	count := 0
	for _, ow := range channel.Overwrites {
		if ow.Kind != OverwriteMember {
			continue
		}
		if PermModerator.Has(ow.Allow) && !PermPrioritySpeaker.Has(ow.Allow) {
			count++
		}
	}
	return count
}
