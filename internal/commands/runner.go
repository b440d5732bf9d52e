package commands

import (
	"context"

	"go.uber.org/zap"

	"github.com/arkadian/voicelounge/internal/platform"
	"github.com/arkadian/voicelounge/pkg/logger"
)

// Runner consumes the gateway's decoded interaction stream and executes each
// command through the Commander. Outcomes are logged; feedback to the
// invoking member is the platform front-end's job.
type Runner struct {
	commander *Commander
	log       *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(commander *Commander) *Runner {
	return &Runner{
		commander: commander,
		log:       logger.WithModule("commands"),
	}
}

// Run drains the stream until the context is cancelled or the channel
// closes.
func (r *Runner) Run(ctx context.Context, stream <-chan platform.CommandEvent) {
	r.log.Info("command runner started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("command runner stopped")
			return
		case ev, ok := <-stream:
			if !ok {
				r.log.Info("command stream closed")
				return
			}
			r.handle(ctx, ev)
		}
	}
}

func (r *Runner) handle(ctx context.Context, ev platform.CommandEvent) {
	log := r.log.With(
		zap.String("action", ev.Action),
		zap.Int64("member_id", ev.Invoker.ID),
		zap.Int64("channel_id", ev.ChannelID),
		zap.Int64("target_id", ev.TargetID))

	switch ev.Action {
	case platform.CommandSetPermission:
		decision, _, err := r.commander.SetPermission(ctx, SetPermissionInput{
			ChannelID: ev.ChannelID,
			Invoker:   ev.Invoker,
			TargetID:  ev.TargetID,
			Perm:      platform.Permission(ev.Permission),
			Explicit:  ev.Value,
			Toggle:    ev.Toggle,
		})
		logOutcome(log, decision, err)

	case platform.CommandResetChannel:
		decision, err := r.commander.ResetPermissions(ctx, ev.ChannelID, ev.Invoker)
		logOutcome(log, decision, err)

	case platform.CommandAutoKickAdd:
		if err := r.commander.AutoKickAdd(ctx, ev.Invoker, ev.TargetID); err != nil {
			log.Warn("command failed", zap.Error(err))
		}

	case platform.CommandAutoKickRemove:
		if err := r.commander.AutoKickRemove(ctx, ev.Invoker, ev.TargetID); err != nil {
			log.Warn("command failed", zap.Error(err))
		}

	default:
		log.Debug("unknown command action")
	}
}

func logOutcome(log *zap.Logger, decision Decision, err error) {
	switch {
	case err != nil:
		log.Warn("command failed", zap.Error(err))
	case !decision.Allowed:
		log.Info("command denied", zap.String("reason", decision.Reason))
	}
}
