package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arkadian/voicelounge/internal/app"
	"github.com/arkadian/voicelounge/internal/platform"
	"github.com/arkadian/voicelounge/pkg/logger"
	"github.com/arkadian/voicelounge/pkg/metrics"
)

// LifecycleConfig carries the voice settings the manager needs. An empty
// ManagedCategories list places no category restriction on deletion; a
// non-empty list confines it to channels spawned into those categories.
// AFKChannelID, when set, is where members are parked after a failed spawn.
type LifecycleConfig struct {
	CreationChannels  []int64
	ManagedCategories []int64
	AFKChannelID      int64
	DeletionGrace     time.Duration
	MuteRoles         []app.MuteRoleConfig
	EveryoneID        int64
}

// LifecycleManager reacts to presence transitions: spawning a channel when a
// member enters a creation channel and draining spawned channels once empty.
// Platform failures are logged and swallowed; a failed creation simply
// leaves the member where they are.
type LifecycleManager struct {
	session  platform.Session
	store    *PermissionStore
	registry *ChannelRegistry
	cfg      LifecycleConfig

	creation map[int64]struct{}
	managed  map[int64]struct{}
	log      *zap.Logger
}

// ownerAllowMask is the overwrite granted to a channel's owner at creation.
var ownerAllowMask = platform.Mask(
	platform.PermView,
	platform.PermConnect,
	platform.PermSpeak,
	platform.PermPrioritySpeaker,
	platform.PermModerator,
)

// NewLifecycleManager constructs a LifecycleManager.
func NewLifecycleManager(session platform.Session, store *PermissionStore, registry *ChannelRegistry, cfg LifecycleConfig) (*LifecycleManager, error) {
	if session == nil {
		return nil, errors.New("lifecycle: session is required")
	}
	if store == nil {
		return nil, errors.New("lifecycle: permission store is required")
	}
	if registry == nil {
		return nil, errors.New("lifecycle: channel registry is required")
	}
	if cfg.DeletionGrace <= 0 {
		return nil, errors.New("lifecycle: deletion grace must be positive")
	}
	if cfg.EveryoneID == 0 {
		return nil, errors.New("lifecycle: everyone id is required")
	}

	creation := make(map[int64]struct{}, len(cfg.CreationChannels))
	for _, id := range cfg.CreationChannels {
		creation[id] = struct{}{}
	}
	managed := make(map[int64]struct{}, len(cfg.ManagedCategories))
	for _, id := range cfg.ManagedCategories {
		managed[id] = struct{}{}
	}

	return &LifecycleManager{
		session:  session,
		store:    store,
		registry: registry,
		cfg:      cfg,
		creation: creation,
		managed:  managed,
		log:      logger.WithModule("lifecycle"),
	}, nil
}

// IsCreationChannel reports whether the id is a configured creation channel.
func (m *LifecycleManager) IsCreationChannel(channelID int64) bool {
	_, ok := m.creation[channelID]
	return ok
}

// HandleVoiceState processes one presence transition for one member. Errors
// never escape; the event loop must not die over a platform hiccup.
func (m *LifecycleManager) HandleVoiceState(ctx context.Context, ev platform.VoiceStateEvent) {
	ctx = ensureContext(ctx)

	if ev.OldChannelID == ev.NewChannelID {
		return
	}

	if ev.NewChannelID != 0 && m.IsCreationChannel(ev.NewChannelID) {
		m.spawnChannel(ctx, ev.Member, ev.NewChannelID)
	}

	if ev.OldChannelID != 0 && m.registry.IsManaged(ev.OldChannelID) {
		m.maybeScheduleDeletion(ctx, ev.OldChannelID)
	}
}

// spawnChannel creates the member's own channel next to the creation channel
// and moves them into it.
func (m *LifecycleManager) spawnChannel(ctx context.Context, member platform.Member, creationID int64) {
	log := m.log.With(zap.Int64("member_id", member.ID), zap.Int64("creation_channel_id", creationID))

	// An owner re-entering a creation channel is routed back to the channel
	// they already own instead of spawning a second one.
	if existing, ok := m.registry.ChannelOf(member.ID); ok {
		if err := m.session.MoveMember(ctx, member.ID, existing); err != nil {
			log.Warn("move to existing channel failed", zap.Error(err))
		}
		return
	}

	creationChannel, err := m.session.Channel(ctx, creationID)
	if err != nil {
		log.Warn("creation channel lookup failed", zap.Error(err))
		return
	}

	overwrites, err := m.buildOverwrites(ctx, member)
	if err != nil {
		log.Warn("overwrite assembly failed", zap.Error(err))
		return
	}

	name := member.Name
	if name == "" {
		name = fmt.Sprintf("member-%d", member.ID)
	}

	channel, err := m.session.CreateChannel(ctx, platform.CreateChannelInput{
		Name:       fmt.Sprintf("%s's channel", name),
		CategoryID: creationChannel.CategoryID,
		Bitrate:    creationChannel.Bitrate,
		Overwrites: overwrites,
	})
	if err != nil {
		log.Warn("channel creation failed", zap.Error(err))
		m.parkInAFK(ctx, member.ID, log)
		return
	}

	if err := m.registry.Register(ctx, channel.ID, member.ID, channel.CategoryID); err != nil {
		log.Error("channel registration failed", zap.Int64("channel_id", channel.ID), zap.Error(err))
	}

	if err := m.session.MoveMember(ctx, member.ID, channel.ID); err != nil {
		log.Warn("move into spawned channel failed", zap.Int64("channel_id", channel.ID), zap.Error(err))
	}

	metrics.ChannelsCreated.Inc()
	log.Info("channel spawned", zap.Int64("channel_id", channel.ID))
}

// parkInAFK moves a member whose channel could not be spawned into the AFK
// channel so they do not sit in the creation channel indefinitely.
func (m *LifecycleManager) parkInAFK(ctx context.Context, memberID int64, log *zap.Logger) {
	if m.cfg.AFKChannelID == 0 {
		return
	}
	if err := m.session.MoveMember(ctx, memberID, m.cfg.AFKChannelID); err != nil {
		log.Warn("move to afk channel failed", zap.Int64("afk_channel_id", m.cfg.AFKChannelID), zap.Error(err))
	}
}

// inManagedCategory reports whether deletion may touch the channel. The
// check uses the category recorded at spawn; channels spawned outside the
// configured categories are left to the guild's admins.
func (m *LifecycleManager) inManagedCategory(channelID int64) bool {
	if len(m.managed) == 0 {
		return true
	}
	category, ok := m.registry.Category(channelID)
	if !ok {
		return true
	}
	_, ok = m.managed[category]
	return ok
}

// buildOverwrites unions the default owner and mute-role overwrites with the
// owner's persisted permission rows.
func (m *LifecycleManager) buildOverwrites(ctx context.Context, owner platform.Member) ([]platform.Overwrite, error) {
	overwrites := []platform.Overwrite{
		{TargetID: owner.ID, Kind: platform.OverwriteMember, Allow: ownerAllowMask},
	}

	for _, mute := range m.cfg.MuteRoles {
		var deny int64
		for _, name := range mute.Deny {
			if p, ok := platform.LookupPermission(name); ok {
				deny |= p.Bit()
			}
		}
		if deny != 0 {
			overwrites = append(overwrites, platform.Overwrite{
				TargetID: mute.RoleID,
				Kind:     platform.OverwriteRole,
				Deny:     deny,
			})
		}
	}

	rows, err := m.store.ListByOwner(ctx, owner.ID)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		if row.TargetID == owner.ID {
			continue // the owner overwrite above wins
		}
		kind := platform.OverwriteMember
		if row.TargetID == m.cfg.EveryoneID {
			kind = platform.OverwriteRole
		}
		overwrites = append(overwrites, platform.Overwrite{
			TargetID: row.TargetID,
			Kind:     kind,
			Allow:    row.AllowMask,
			Deny:     row.DenyMask,
		})
	}

	return overwrites, nil
}

// maybeScheduleDeletion starts the grace timer when the vacated channel is
// empty. Emptiness is re-verified after the grace delay; a member rejoining
// during the window aborts the deletion.
func (m *LifecycleManager) maybeScheduleDeletion(ctx context.Context, channelID int64) {
	if m.IsCreationChannel(channelID) || !m.inManagedCategory(channelID) {
		return
	}

	members, err := m.session.ChannelMembers(ctx, channelID)
	if err != nil {
		if platform.IsNotFound(err) {
			_ = m.registry.Unregister(ctx, channelID)
			return
		}
		m.log.Warn("member count failed", zap.Int64("channel_id", channelID), zap.Error(err))
		return
	}
	if len(members) > 0 {
		return
	}

	go m.deleteAfterGrace(channelID)
}

func (m *LifecycleManager) deleteAfterGrace(channelID int64) {
	time.Sleep(m.cfg.DeletionGrace)

	ctx := context.Background()
	if err := m.SweepChannel(ctx, channelID); err != nil {
		m.log.Warn("grace deletion failed", zap.Int64("channel_id", channelID), zap.Error(err))
	}
}

// SweepChannel deletes the channel if it is still registered and verified
// empty. The maintenance sweeper shares this path with the grace timer.
func (m *LifecycleManager) SweepChannel(ctx context.Context, channelID int64) error {
	ctx = ensureContext(ctx)

	if !m.registry.IsManaged(channelID) || m.IsCreationChannel(channelID) || !m.inManagedCategory(channelID) {
		return nil
	}

	members, err := m.session.ChannelMembers(ctx, channelID)
	if err != nil {
		if platform.IsNotFound(err) {
			return m.registry.Unregister(ctx, channelID)
		}
		return err
	}
	if len(members) > 0 {
		return nil
	}

	if err := m.session.DeleteChannel(ctx, channelID, "voice channel drained"); err != nil {
		if !platform.IsNotFound(err) {
			return err
		}
	}

	if err := m.registry.Unregister(ctx, channelID); err != nil {
		return err
	}

	metrics.ChannelsDeleted.Inc()
	m.log.Info("channel deleted", zap.Int64("channel_id", channelID))
	return nil
}
