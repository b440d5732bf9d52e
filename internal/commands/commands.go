package commands

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/arkadian/voicelounge/internal/models"
	"github.com/arkadian/voicelounge/internal/platform"
	"github.com/arkadian/voicelounge/internal/services"
	apperrors "github.com/arkadian/voicelounge/pkg/errors"
	"github.com/arkadian/voicelounge/pkg/logger"
)

// Commander wires the guard in front of the permission engine and the
// autokick coordinator. Every mutation authorizes first; a denied decision
// is returned to the caller untouched so front-ends can surface the reason.
type Commander struct {
	guard    *Guard
	engine   *services.PermissionEngine
	autokick *services.AutoKickCoordinator
	log      *zap.Logger
}

// NewCommander constructs a Commander.
func NewCommander(guard *Guard, engine *services.PermissionEngine, autokick *services.AutoKickCoordinator) (*Commander, error) {
	if guard == nil {
		return nil, errors.New("commands: guard is required")
	}
	if engine == nil {
		return nil, errors.New("commands: permission engine is required")
	}
	if autokick == nil {
		return nil, errors.New("commands: autokick coordinator is required")
	}
	return &Commander{
		guard:    guard,
		engine:   engine,
		autokick: autokick,
		log:      logger.WithModule("commands"),
	}, nil
}

// SetPermissionInput describes one owner-issued permission command.
type SetPermissionInput struct {
	ChannelID int64
	Invoker   platform.Member
	TargetID  int64
	Perm      platform.Permission
	Explicit  *bool
	Toggle    bool
}

// SetPermission mutates one permission for one target on the invoker's
// channel. Only the owner may grant; the moderator permission defaults to
// allow when no explicit value is given.
func (c *Commander) SetPermission(ctx context.Context, in SetPermissionInput) (Decision, *bool, error) {
	decision, channel, err := c.guard.Authorize(ctx, in.ChannelID, in.Invoker.ID, platform.LevelOwner)
	if err != nil || !decision.Allowed {
		return decision, nil, err
	}

	result, err := c.engine.Apply(ctx, services.ApplyInput{
		Channel:     channel,
		Owner:       in.Invoker,
		TargetID:    in.TargetID,
		Perm:        in.Perm,
		Explicit:    in.Explicit,
		Toggle:      in.Toggle,
		DefaultTrue: in.Perm == platform.PermModerator,
	})
	if err != nil {
		return decision, nil, err
	}

	c.log.Info("permission set",
		zap.Int64("channel_id", in.ChannelID),
		zap.Int64("owner_id", in.Invoker.ID),
		zap.Int64("target_id", in.TargetID),
		zap.String("permission", string(in.Perm)))
	return decision, result.NewValue, nil
}

// ResetPermissions clears every non-owner member overwrite on the channel
// and drops the owner's persisted rows.
func (c *Commander) ResetPermissions(ctx context.Context, channelID int64, invoker platform.Member) (Decision, error) {
	decision, channel, err := c.guard.Authorize(ctx, channelID, invoker.ID, platform.LevelOwner)
	if err != nil || !decision.Allowed {
		return decision, err
	}

	if err := c.engine.Reset(ctx, channel, invoker.ID); err != nil {
		return decision, err
	}

	c.log.Info("permissions reset",
		zap.Int64("channel_id", channelID),
		zap.Int64("owner_id", invoker.ID))
	return decision, nil
}

// AutoKickAdd registers a target on the invoker's autokick list. The list is
// personal, so no channel standing is required; the tier limit applies.
func (c *Commander) AutoKickAdd(ctx context.Context, invoker platform.Member, targetID int64) error {
	if targetID == invoker.ID {
		return apperrors.NewBadRequest("cannot autokick yourself")
	}
	return c.autokick.Add(ctx, invoker, targetID)
}

// AutoKickRemove drops a target from the invoker's autokick list.
func (c *Commander) AutoKickRemove(ctx context.Context, invoker platform.Member, targetID int64) error {
	return c.autokick.Remove(ctx, invoker.ID, targetID)
}

// AutoKickList returns the invoker's autokick entries.
func (c *Commander) AutoKickList(ctx context.Context, invoker platform.Member) ([]models.AutoKick, error) {
	return c.autokick.Entries(ctx, invoker.ID)
}
