package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkadian/voicelounge/internal/database/testutil"
	"github.com/arkadian/voicelounge/internal/platform"
	"github.com/arkadian/voicelounge/internal/platform/platformtest"
	apperrors "github.com/arkadian/voicelounge/pkg/errors"
)

func boolPtr(v bool) *bool { return &v }

func TestDetermineNewValueToggle(t *testing.T) {
	unsetEveryone := func() *bool { return nil }

	// Truthy current flips down: unset for moderator, deny for the rest.
	got := DetermineNewValue(boolPtr(true), platform.PermSpeak, nil, false, true, unsetEveryone)
	require.NotNil(t, got)
	require.False(t, *got)

	got = DetermineNewValue(boolPtr(true), platform.PermModerator, nil, false, true, unsetEveryone)
	require.Nil(t, got)

	// Falsy or unset current flips up.
	got = DetermineNewValue(boolPtr(false), platform.PermSpeak, nil, false, true, unsetEveryone)
	require.NotNil(t, got)
	require.True(t, *got)

	got = DetermineNewValue(nil, platform.PermSpeak, nil, false, true, unsetEveryone)
	require.NotNil(t, got)
	require.True(t, *got)
}

func TestToggleTwiceRestoresEffectiveValue(t *testing.T) {
	unsetEveryone := func() *bool { return nil }

	effective := func(v *bool) bool { return v != nil && *v }

	for _, perm := range []platform.Permission{platform.PermSpeak, platform.PermModerator} {
		for _, start := range []*bool{nil, boolPtr(true), boolPtr(false)} {
			once := DetermineNewValue(start, perm, nil, false, true, unsetEveryone)
			twice := DetermineNewValue(once, perm, nil, false, true, unsetEveryone)
			require.Equal(t, effective(start), effective(twice),
				"perm %s starting from %v", perm, start)
		}
	}
}

func TestDetermineNewValueExplicit(t *testing.T) {
	unsetEveryone := func() *bool { return nil }

	got := DetermineNewValue(nil, platform.PermSpeak, boolPtr(true), false, false, unsetEveryone)
	require.NotNil(t, got)
	require.True(t, *got)

	got = DetermineNewValue(boolPtr(true), platform.PermSpeak, boolPtr(false), false, false, unsetEveryone)
	require.NotNil(t, got)
	require.False(t, *got)

	// "-" on the moderator permission resolves to unset, not deny.
	got = DetermineNewValue(boolPtr(true), platform.PermModerator, boolPtr(false), false, false, unsetEveryone)
	require.Nil(t, got)
}

func TestDetermineNewValueEveryoneInheritance(t *testing.T) {
	// Unset or allowed everyone value resolves to deny; explicit everyone
	// deny resolves to allow. The asymmetry is deliberate: it lets an owner
	// open a globally closed permission for one user.
	got := DetermineNewValue(nil, platform.PermConnect, nil, false, false, func() *bool { return nil })
	require.NotNil(t, got)
	require.False(t, *got)

	got = DetermineNewValue(nil, platform.PermConnect, nil, false, false, func() *bool { return boolPtr(true) })
	require.NotNil(t, got)
	require.False(t, *got)

	got = DetermineNewValue(nil, platform.PermConnect, nil, false, false, func() *bool { return boolPtr(false) })
	require.NotNil(t, got)
	require.True(t, *got)

	// The moderator permission ignores everyone and uses the default flag.
	got = DetermineNewValue(nil, platform.PermModerator, nil, true, false, func() *bool { return boolPtr(false) })
	require.NotNil(t, got)
	require.True(t, *got)
}

func newEngineFixture(t *testing.T) (*PermissionEngine, *platformtest.FakeSession, *PermissionStore) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	store, err := NewPermissionStore(db)
	require.NoError(t, err)

	session := platformtest.NewFakeSession()
	policy := NewTierPolicy(testTiers())

	engine, err := NewPermissionEngine(session, store, policy, testEveryoneID, nil)
	require.NoError(t, err)
	return engine, session, store
}

func ownerChannel(session *platformtest.FakeSession, ownerID int64) *platform.Channel {
	return session.AddChannel(platform.Channel{
		ID: 500,
		Overwrites: []platform.Overwrite{
			{TargetID: ownerID, Kind: platform.OverwriteMember, Allow: ownerAllowMask},
		},
	})
}

func TestApplyMirrorsPlatformAndStore(t *testing.T) {
	engine, session, store := newEngineFixture(t)
	ctx := context.Background()

	owner := platform.Member{ID: 1, Roles: []string{"gold"}}
	channel := ownerChannel(session, owner.ID)

	res, err := engine.Apply(ctx, ApplyInput{
		Channel:  channel,
		Owner:    owner,
		TargetID: 2,
		Perm:     platform.PermSpeak,
		Explicit: boolPtr(true),
	})
	require.NoError(t, err)
	require.NotNil(t, res.NewValue)
	require.True(t, *res.NewValue)

	live, err := session.Channel(ctx, channel.ID)
	require.NoError(t, err)
	ow, ok := live.Overwrite(2, platform.OverwriteMember)
	require.True(t, ok)
	require.True(t, platform.PermSpeak.Has(ow.Allow))

	row, err := store.Get(ctx, owner.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.True(t, platform.PermSpeak.Has(row.AllowMask))
}

func TestApplyPlatformFailureAbortsStoreMirror(t *testing.T) {
	engine, session, store := newEngineFixture(t)
	ctx := context.Background()

	owner := platform.Member{ID: 1, Roles: []string{"gold"}}
	channel := ownerChannel(session, owner.ID)

	session.FailWith["SetOverwrite"] = platform.NewError(platform.KindPermissionDenied, "set overwrite", errors.New("missing manage roles"))

	_, err := engine.Apply(ctx, ApplyInput{
		Channel:  channel,
		Owner:    owner,
		TargetID: 2,
		Perm:     platform.PermSpeak,
		Explicit: boolPtr(true),
	})
	require.ErrorContains(t, err, apperrors.ErrPlatformFailure.Message)

	row, err := store.Get(ctx, owner.ID, 2)
	require.NoError(t, err)
	require.Nil(t, row, "store must not be committed after a platform failure")
}

func TestApplyRejectsModeratorForEveryone(t *testing.T) {
	engine, session, store := newEngineFixture(t)
	ctx := context.Background()

	owner := platform.Member{ID: 1, Roles: []string{"platinum"}}
	channel := ownerChannel(session, owner.ID)

	_, err := engine.Apply(ctx, ApplyInput{
		Channel:  channel,
		Owner:    owner,
		TargetID: testEveryoneID,
		Perm:     platform.PermModerator,
		Explicit: boolPtr(true),
	})
	require.ErrorIs(t, err, apperrors.ErrEveryoneModerator)

	row, err := store.Get(ctx, owner.ID, testEveryoneID)
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestModeratorCapScenario(t *testing.T) {
	// Owner with tier limit 2 grants moderator to A and B; C is rejected;
	// removing A then lets C through.
	engine, session, _ := newEngineFixture(t)
	ctx := context.Background()

	owner := platform.Member{ID: 1, Roles: []string{"gold"}} // moderators: 2
	channel := ownerChannel(session, owner.ID)

	grant := func(target int64) error {
		_, err := engine.Apply(ctx, ApplyInput{
			Channel:  channel,
			Owner:    owner,
			TargetID: target,
			Perm:     platform.PermModerator,
			Explicit: boolPtr(true),
		})
		return err
	}

	require.NoError(t, grant(10)) // A
	require.NoError(t, grant(11)) // B

	err := grant(12) // C
	require.ErrorIs(t, err, apperrors.ErrModeratorLimit)
	require.Equal(t, 2, platform.ModeratorCount(channel))

	// Re-granting an existing moderator is not a new seat.
	require.NoError(t, grant(10))

	// Demote A (explicit "-" resolves moderator to unset).
	_, err = engine.Apply(ctx, ApplyInput{
		Channel:  channel,
		Owner:    owner,
		TargetID: 10,
		Perm:     platform.PermModerator,
		Explicit: boolPtr(false),
	})
	require.NoError(t, err)
	require.Equal(t, 1, platform.ModeratorCount(channel))

	require.NoError(t, grant(12))
	require.Equal(t, 2, platform.ModeratorCount(channel))
}

func TestModeratorCapZeroWithoutTier(t *testing.T) {
	engine, session, _ := newEngineFixture(t)
	ctx := context.Background()

	owner := platform.Member{ID: 1, Roles: []string{"member"}}
	channel := ownerChannel(session, owner.ID)

	_, err := engine.Apply(ctx, ApplyInput{
		Channel:  channel,
		Owner:    owner,
		TargetID: 10,
		Perm:     platform.PermModerator,
		Explicit: boolPtr(true),
	})
	require.ErrorIs(t, err, apperrors.ErrModeratorLimit)
}

func TestModeratorCapResolverFallback(t *testing.T) {
	// The command frame carried no role list; the engine resolves the
	// owner's tier through the platform instead of treating them as
	// tierless.
	db := testutil.MustOpenTestDB(t)
	store, err := NewPermissionStore(db)
	require.NoError(t, err)

	session := platformtest.NewFakeSession()
	policy := NewTierPolicy(testTiers())
	resolver := NewRoleTierResolver(session, policy)

	engine, err := NewPermissionEngine(session, store, policy, testEveryoneID, resolver)
	require.NoError(t, err)

	session.AddMember(platform.Member{ID: 1, Name: "ada", Roles: []string{"silver"}}) // moderators: 1
	owner := platform.Member{ID: 1, Name: "ada"}
	channel := ownerChannel(session, owner.ID)
	ctx := context.Background()

	grant := func(target int64) error {
		_, err := engine.Apply(ctx, ApplyInput{
			Channel:  channel,
			Owner:    owner,
			TargetID: target,
			Perm:     platform.PermModerator,
			Explicit: boolPtr(true),
		})
		return err
	}

	require.NoError(t, grant(10))
	require.ErrorIs(t, grant(11), apperrors.ErrModeratorLimit)

	// A bare member with no subscription roles still gets nothing.
	session.AddMember(platform.Member{ID: 2, Name: "bob"})
	bare := platform.Member{ID: 2, Name: "bob"}
	bareChannel := session.AddChannel(platform.Channel{
		ID: 501,
		Overwrites: []platform.Overwrite{
			{TargetID: bare.ID, Kind: platform.OverwriteMember, Allow: ownerAllowMask},
		},
	})
	_, err = engine.Apply(ctx, ApplyInput{
		Channel:  bareChannel,
		Owner:    bare,
		TargetID: 10,
		Perm:     platform.PermModerator,
		Explicit: boolPtr(true),
	})
	require.ErrorIs(t, err, apperrors.ErrModeratorLimit)
}

func TestResetClearsMemberOverwritesAndStore(t *testing.T) {
	engine, session, store := newEngineFixture(t)
	ctx := context.Background()

	owner := platform.Member{ID: 1, Roles: []string{"gold"}}
	channel := ownerChannel(session, owner.ID)

	_, err := engine.Apply(ctx, ApplyInput{
		Channel: channel, Owner: owner, TargetID: 2,
		Perm: platform.PermSpeak, Explicit: boolPtr(true),
	})
	require.NoError(t, err)

	require.NoError(t, engine.Reset(ctx, channel, owner.ID))

	live, err := session.Channel(ctx, channel.ID)
	require.NoError(t, err)
	_, ok := live.Overwrite(2, platform.OverwriteMember)
	require.False(t, ok)

	// The owner's own overwrite survives the reset.
	_, ok = live.Overwrite(owner.ID, platform.OverwriteMember)
	require.True(t, ok)

	count, err := store.CountByOwner(ctx, owner.ID)
	require.NoError(t, err)
	require.Zero(t, count)
}
