// Package commands exposes the mutation entry points a chat front-end would
// call, each behind an explicit authorization check.
package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/arkadian/voicelounge/internal/platform"
	"github.com/arkadian/voicelounge/internal/services"
)

// Decision is the outcome of an authorization check. Commands receive it as
// a value and must branch on Allowed before touching anything.
type Decision struct {
	Allowed bool
	Reason  string
	Level   platform.PermissionLevel
}

// Denied builds a rejecting decision.
func Denied(reason string) Decision {
	return Decision{Reason: reason}
}

// Guard derives a member's standing on a channel from its live overwrites
// and decides whether a command may proceed.
type Guard struct {
	session  platform.Session
	registry *services.ChannelRegistry
}

// NewGuard constructs a Guard.
func NewGuard(session platform.Session, registry *services.ChannelRegistry) (*Guard, error) {
	if session == nil {
		return nil, errors.New("commands: session is required")
	}
	if registry == nil {
		return nil, errors.New("commands: channel registry is required")
	}
	return &Guard{session: session, registry: registry}, nil
}

// Authorize checks that the member holds at least the required level on the
// channel. The returned channel snapshot is reused by the command body so
// the decision and the mutation see the same overwrites.
func (g *Guard) Authorize(ctx context.Context, channelID, memberID int64, required platform.PermissionLevel) (Decision, *platform.Channel, error) {
	if !g.registry.IsManaged(channelID) {
		return Denied("not a managed channel"), nil, nil
	}

	channel, err := g.session.Channel(ctx, channelID)
	if err != nil {
		if platform.IsNotFound(err) {
			return Denied("channel no longer exists"), nil, nil
		}
		return Decision{}, nil, fmt.Errorf("commands: authorize: %w", err)
	}

	level := platform.LevelOf(channel, memberID)

	// The registry is authoritative for ownership: the owner overwrite can
	// lag behind right after creation or after a manual overwrite purge.
	if owner, ok := g.registry.Owner(channelID); ok && owner == memberID {
		level = platform.LevelOwner
	}

	if level < required {
		return Decision{Level: level, Reason: fmt.Sprintf("requires %s, member is %s", required, level)}, nil, nil
	}
	return Decision{Allowed: true, Level: level}, channel, nil
}
