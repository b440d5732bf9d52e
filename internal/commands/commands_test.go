package commands

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkadian/voicelounge/internal/app"
	"github.com/arkadian/voicelounge/internal/database/testutil"
	"github.com/arkadian/voicelounge/internal/platform"
	"github.com/arkadian/voicelounge/internal/platform/platformtest"
	"github.com/arkadian/voicelounge/internal/services"
	apperrors "github.com/arkadian/voicelounge/pkg/errors"
)

const everyoneID = int64(900)

func boolPtr(v bool) *bool { return &v }

func newCommanderFixture(t *testing.T) (*Commander, *platformtest.FakeSession, *services.ChannelRegistry) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	store, err := services.NewPermissionStore(db)
	require.NoError(t, err)
	kicks, err := services.NewAutoKickStore(db)
	require.NoError(t, err)
	registry, err := services.NewChannelRegistry(db)
	require.NoError(t, err)

	policy := services.NewTierPolicy([]app.TierConfig{{Name: "gold", Moderators: 2, AutoKicks: 5}})
	session := platformtest.NewFakeSession()

	engine, err := services.NewPermissionEngine(session, store, policy, everyoneID, nil)
	require.NoError(t, err)
	coordinator, err := services.NewAutoKickCoordinator(session, kicks, policy, db, services.AutoKickConfig{QueueSize: 8})
	require.NoError(t, err)
	guard, err := NewGuard(session, registry)
	require.NoError(t, err)
	commander, err := NewCommander(guard, engine, coordinator)
	require.NoError(t, err)
	return commander, session, registry
}

func registerOwnedChannel(t *testing.T, session *platformtest.FakeSession, registry *services.ChannelRegistry, channelID, ownerID int64) {
	t.Helper()
	session.AddChannel(platform.Channel{
		ID: channelID,
		Overwrites: []platform.Overwrite{{
			TargetID: ownerID,
			Kind:     platform.OverwriteMember,
			Allow:    platform.Mask(platform.PermPrioritySpeaker, platform.PermModerator, platform.PermConnect),
		}},
	})
	require.NoError(t, registry.Register(context.Background(), channelID, ownerID, 9))
}

func TestSetPermissionRequiresOwner(t *testing.T) {
	commander, session, registry := newCommanderFixture(t)
	registerOwnedChannel(t, session, registry, 100, 1)

	stranger := platform.Member{ID: 5, Name: "stranger", Roles: []string{"gold"}}
	decision, _, err := commander.SetPermission(context.Background(), SetPermissionInput{
		ChannelID: 100,
		Invoker:   stranger,
		TargetID:  7,
		Perm:      platform.PermSpeak,
		Toggle:    true,
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Contains(t, decision.Reason, "requires owner")
}

func TestSetPermissionAppliesForOwner(t *testing.T) {
	commander, session, registry := newCommanderFixture(t)
	registerOwnedChannel(t, session, registry, 100, 1)

	owner := platform.Member{ID: 1, Name: "ada", Roles: []string{"gold"}}
	decision, newValue, err := commander.SetPermission(context.Background(), SetPermissionInput{
		ChannelID: 100,
		Invoker:   owner,
		TargetID:  7,
		Perm:      platform.PermConnect,
		Explicit:  boolPtr(true),
	})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, platform.LevelOwner, decision.Level)
	require.NotNil(t, newValue)
	require.True(t, *newValue)

	channel, err := session.Channel(context.Background(), 100)
	require.NoError(t, err)
	ow, ok := channel.Overwrite(7, platform.OverwriteMember)
	require.True(t, ok)
	require.True(t, platform.PermConnect.Has(ow.Allow))
}

func TestSetPermissionOnUnmanagedChannel(t *testing.T) {
	commander, session, _ := newCommanderFixture(t)
	session.AddChannel(platform.Channel{ID: 200})

	decision, _, err := commander.SetPermission(context.Background(), SetPermissionInput{
		ChannelID: 200,
		Invoker:   platform.Member{ID: 1},
		TargetID:  7,
		Perm:      platform.PermSpeak,
		Toggle:    true,
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, "not a managed channel", decision.Reason)
}

func TestResetPermissionsClearsGrants(t *testing.T) {
	commander, session, registry := newCommanderFixture(t)
	registerOwnedChannel(t, session, registry, 100, 1)

	owner := platform.Member{ID: 1, Name: "ada", Roles: []string{"gold"}}
	ctx := context.Background()

	_, _, err := commander.SetPermission(ctx, SetPermissionInput{
		ChannelID: 100, Invoker: owner, TargetID: 7,
		Perm: platform.PermSpeak, Explicit: boolPtr(true),
	})
	require.NoError(t, err)

	decision, err := commander.ResetPermissions(ctx, 100, owner)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	channel, err := session.Channel(ctx, 100)
	require.NoError(t, err)
	_, ok := channel.Overwrite(7, platform.OverwriteMember)
	require.False(t, ok)

	// The owner overwrite survives the reset.
	_, ok = channel.Overwrite(1, platform.OverwriteMember)
	require.True(t, ok)
}

func TestAutoKickSelfRejected(t *testing.T) {
	commander, _, _ := newCommanderFixture(t)

	invoker := platform.Member{ID: 1, Roles: []string{"gold"}}
	err := commander.AutoKickAdd(context.Background(), invoker, 1)
	require.Error(t, err)
	require.ErrorContains(t, err, "yourself")
}

func TestAutoKickRoundTrip(t *testing.T) {
	commander, _, _ := newCommanderFixture(t)
	ctx := context.Background()

	invoker := platform.Member{ID: 1, Roles: []string{"gold"}}
	require.NoError(t, commander.AutoKickAdd(ctx, invoker, 7))

	entries, err := commander.AutoKickList(ctx, invoker)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, 7, entries[0].TargetID)

	require.NoError(t, commander.AutoKickRemove(ctx, invoker, 7))
	require.ErrorIs(t, commander.AutoKickRemove(ctx, invoker, 7), apperrors.ErrAutoKickMissing)
}

func TestGuardRegistryOwnershipFallback(t *testing.T) {
	commander, session, registry := newCommanderFixture(t)

	// No overwrites at all, but the registry knows who owns the channel.
	session.AddChannel(platform.Channel{ID: 100})
	require.NoError(t, registry.Register(context.Background(), 100, 1, 9))

	owner := platform.Member{ID: 1, Roles: []string{"gold"}}
	decision, _, err := commander.SetPermission(context.Background(), SetPermissionInput{
		ChannelID: 100, Invoker: owner, TargetID: 7,
		Perm: platform.PermSpeak, Explicit: boolPtr(true),
	})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}
