// Package platform defines the narrow surface this bot consumes from the
// chat/voice platform. The real wire protocol lives behind the Session
// interface; everything above it works with stable integer ids.
package platform

import "context"

// Member is a guild member as seen by the voice subsystem. Roles carries the
// member's role names, used for subscription-tier lookups.
type Member struct {
	ID    int64
	Name  string
	Roles []string
}

// OverwriteKind distinguishes member overwrites from role overwrites.
type OverwriteKind int

const (
	OverwriteMember OverwriteKind = iota
	OverwriteRole
)

// Overwrite is a per-target permission overwrite on a channel. Allow and
// Deny are platform-layout bitmasks; a bit present in neither inherits.
type Overwrite struct {
	TargetID int64
	Kind     OverwriteKind
	Allow    int64
	Deny     int64
}

// Channel is a voice channel snapshot.
type Channel struct {
	ID         int64
	Name       string
	CategoryID int64
	Bitrate    int
	Overwrites []Overwrite
}

// Overwrite returns the overwrite for the given target, if present.
func (c *Channel) Overwrite(targetID int64, kind OverwriteKind) (Overwrite, bool) {
	for _, ow := range c.Overwrites {
		if ow.TargetID == targetID && ow.Kind == kind {
			return ow, true
		}
	}
	return Overwrite{}, false
}

// CreateChannelInput carries the fields needed to spawn a voice channel.
type CreateChannelInput struct {
	Name       string
	CategoryID int64
	Bitrate    int
	Overwrites []Overwrite
}

// VoiceStateEvent describes one presence transition for one member. A zero
// channel id means "no channel" (the member was, or is now, disconnected).
type VoiceStateEvent struct {
	Member       Member
	OldChannelID int64
	NewChannelID int64
}

// CommandEvent is a structured command frame from the gateway: a member
// invoked one of the bot's interactions. Parsing of any textual command
// syntax happens on the platform side; the bot only sees the decoded form.
type CommandEvent struct {
	Action     string
	Invoker    Member
	ChannelID  int64
	TargetID   int64
	Permission string
	Value      *bool
	Toggle     bool
}

// Command actions delivered by the gateway.
const (
	CommandSetPermission  = "set_permission"
	CommandResetChannel   = "reset_channel"
	CommandAutoKickAdd    = "autokick_add"
	CommandAutoKickRemove = "autokick_remove"
)

// Session is the outbound platform API consumed by the voice subsystem.
type Session interface {
	// Channel fetches a current snapshot of the channel.
	Channel(ctx context.Context, channelID int64) (*Channel, error)

	// CreateChannel creates a voice channel and returns its snapshot.
	CreateChannel(ctx context.Context, input CreateChannelInput) (*Channel, error)

	// DeleteChannel removes a channel. The reason is recorded in the
	// platform's audit log.
	DeleteChannel(ctx context.Context, channelID int64, reason string) error

	// SetOverwrite replaces the overwrite for ow.TargetID on the channel.
	// An overwrite with both masks zero removes the entry.
	SetOverwrite(ctx context.Context, channelID int64, ow Overwrite) error

	// MoveMember moves a connected member into the given channel.
	MoveMember(ctx context.Context, memberID, channelID int64) error

	// Disconnect drops the member from voice entirely.
	Disconnect(ctx context.Context, memberID int64) error

	// ChannelMembers lists members currently connected to the channel.
	ChannelMembers(ctx context.Context, channelID int64) ([]Member, error)

	// Member fetches a guild member by id.
	Member(ctx context.Context, memberID int64) (*Member, error)
}
