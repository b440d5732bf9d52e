// Package events fans gateway voice-state updates out to the components
// that react to them.
package events

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkadian/voicelounge/internal/platform"
	"github.com/arkadian/voicelounge/internal/services"
	"github.com/arkadian/voicelounge/pkg/logger"
	"github.com/arkadian/voicelounge/pkg/metrics"
)

// Dispatcher routes voice-state events to the lifecycle manager and the
// autokick queue. One dispatcher goroutine consumes the gateway stream, so
// events for a given member are handled in arrival order.
type Dispatcher struct {
	lifecycle *services.LifecycleManager
	autokick  *services.AutoKickCoordinator
	log       *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(lifecycle *services.LifecycleManager, autokick *services.AutoKickCoordinator) (*Dispatcher, error) {
	if lifecycle == nil {
		return nil, errors.New("events: lifecycle manager is required")
	}
	if autokick == nil {
		return nil, errors.New("events: autokick coordinator is required")
	}
	return &Dispatcher{
		lifecycle: lifecycle,
		autokick:  autokick,
		log:       logger.WithModule("events"),
	}, nil
}

// HandleVoiceState processes one transition. It never returns an error: the
// stream must keep draining whatever an individual event does.
func (d *Dispatcher) HandleVoiceState(ctx context.Context, ev platform.VoiceStateEvent) {
	metrics.GatewayEvents.WithLabelValues("voice_state").Inc()

	log := d.log.With(
		zap.String("trace_id", uuid.NewString()),
		zap.Int64("member_id", ev.Member.ID),
		zap.Int64("old_channel_id", ev.OldChannelID),
		zap.Int64("new_channel_id", ev.NewChannelID))
	log.Debug("voice state update")

	d.lifecycle.HandleVoiceState(ctx, ev)

	// Joins and moves land on the autokick queue; the worker re-validates
	// presence itself, so a stale enqueue is harmless.
	if ev.NewChannelID != 0 && ev.NewChannelID != ev.OldChannelID {
		d.autokick.Enqueue(ev.Member, ev.NewChannelID)
	}
}

// Run consumes the event stream until the context is cancelled or the
// channel closes.
func (d *Dispatcher) Run(ctx context.Context, stream <-chan platform.VoiceStateEvent) {
	d.log.Info("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopped")
			return
		case ev, ok := <-stream:
			if !ok {
				d.log.Info("event stream closed")
				return
			}
			d.HandleVoiceState(ctx, ev)
		}
	}
}
