package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arkadian/voicelounge/internal/database/testutil"
	"github.com/arkadian/voicelounge/internal/models"
	"github.com/arkadian/voicelounge/internal/platform"
	"github.com/arkadian/voicelounge/internal/platform/platformtest"
	apperrors "github.com/arkadian/voicelounge/pkg/errors"
)

func newCoordinatorFixture(t *testing.T) (*AutoKickCoordinator, *platformtest.FakeSession) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	store, err := NewAutoKickStore(db)
	require.NoError(t, err)
	policy := NewTierPolicy(testTiers())

	session := platformtest.NewFakeSession()
	coordinator, err := NewAutoKickCoordinator(session, store, policy, db, AutoKickConfig{
		QueueSize: 16,
		Pause:     time.Millisecond,
	})
	require.NoError(t, err)
	return coordinator, session
}

func goldOwner(id int64) platform.Member {
	return platform.Member{ID: id, Name: "owner", Roles: []string{"gold"}}
}

func TestAutoKickAddRemovePairSemantics(t *testing.T) {
	coordinator, _ := newCoordinatorFixture(t)
	ctx := context.Background()
	owner := goldOwner(1)

	require.NoError(t, coordinator.Add(ctx, owner, 50))

	// Re-adding the same pair is rejected; the list is a set.
	require.ErrorIs(t, coordinator.Add(ctx, owner, 50), apperrors.ErrAutoKickExists)

	require.NoError(t, coordinator.Remove(ctx, 1, 50))

	// Removing an absent pair reports failure rather than succeeding silently.
	require.ErrorIs(t, coordinator.Remove(ctx, 1, 50), apperrors.ErrAutoKickMissing)

	// After removal the pair can be registered again.
	require.NoError(t, coordinator.Add(ctx, owner, 50))
}

func TestAutoKickTierLimits(t *testing.T) {
	coordinator, _ := newCoordinatorFixture(t)
	ctx := context.Background()

	// Gold allows five entries.
	owner := goldOwner(1)
	for target := int64(50); target < 55; target++ {
		require.NoError(t, coordinator.Add(ctx, owner, target))
	}
	require.ErrorIs(t, coordinator.Add(ctx, owner, 60), apperrors.ErrAutoKickLimit)

	// No tier, no autokicks at all.
	nobody := platform.Member{ID: 2, Name: "pleb"}
	require.ErrorIs(t, coordinator.Add(ctx, nobody, 50), apperrors.ErrAutoKickLimit)

	entries, err := coordinator.Entries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 5)
}

func TestAutoKickResolverFallback(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	store, err := NewAutoKickStore(db)
	require.NoError(t, err)
	policy := NewTierPolicy(testTiers())

	session := platformtest.NewFakeSession()
	session.AddMember(platform.Member{ID: 1, Name: "owner", Roles: []string{"silver"}})

	coordinator, err := NewAutoKickCoordinator(session, store, policy, db, AutoKickConfig{
		QueueSize: 4,
		Resolver:  NewRoleTierResolver(session, policy),
	})
	require.NoError(t, err)

	// The command frame arrived without roles; the resolver fills the gap.
	bare := platform.Member{ID: 1, Name: "owner"}
	ctx := context.Background()
	require.NoError(t, coordinator.Add(ctx, bare, 50))
	require.NoError(t, coordinator.Add(ctx, bare, 51))
	require.ErrorIs(t, coordinator.Add(ctx, bare, 52), apperrors.ErrAutoKickLimit)
}

func TestAutoKickWorkerDisconnectsOnRejoin(t *testing.T) {
	coordinator, session := newCoordinatorFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	owner := goldOwner(1)
	target := platform.Member{ID: 2, Name: "target"}
	session.AddMember(owner)
	session.AddMember(target)
	session.AddChannel(platform.Channel{ID: 100, Name: "lounge"})

	require.NoError(t, coordinator.Add(ctx, owner, target.ID))

	// Owner sits in the channel; the target rejoins it.
	session.Place(owner.ID, 100)
	session.Place(target.ID, 100)

	go coordinator.Run(ctx)
	coordinator.Enqueue(target, 100)

	require.Eventually(t, func() bool {
		return session.Location(target.ID) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
}

func TestAutoKickWorkerSkipsWhenOwnerAbsent(t *testing.T) {
	coordinator, session := newCoordinatorFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	owner := goldOwner(1)
	target := platform.Member{ID: 2, Name: "target"}
	session.AddMember(owner)
	session.AddMember(target)
	session.AddChannel(platform.Channel{ID: 100, Name: "lounge"})

	require.NoError(t, coordinator.Add(ctx, owner, target.ID))
	session.Place(target.ID, 100) // owner elsewhere

	go coordinator.Run(ctx)
	coordinator.Enqueue(target, 100)
	coordinator.Enqueue(target, 100)

	require.Eventually(t, func() bool {
		return coordinator.QueueDepth() == 0
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 100, session.Location(target.ID))
}

func TestAutoKickWorkerRevalidatesStaleEvents(t *testing.T) {
	coordinator, session := newCoordinatorFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	owner := goldOwner(1)
	target := platform.Member{ID: 2, Name: "target"}
	session.AddMember(owner)
	session.AddMember(target)
	session.AddChannel(platform.Channel{ID: 100, Name: "lounge"})

	require.NoError(t, coordinator.Add(ctx, owner, target.ID))
	session.Place(owner.ID, 100)

	// The target already left by the time the worker gets to the item.
	go coordinator.Run(ctx)
	coordinator.Enqueue(target, 100)

	require.Eventually(t, func() bool {
		return coordinator.QueueDepth() == 0
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 0, session.Location(target.ID))
	require.Empty(t, session.Disconnected)
}

func TestAutoKickRemoveStopsFutureKicks(t *testing.T) {
	coordinator, session := newCoordinatorFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	owner := goldOwner(1)
	target := platform.Member{ID: 2, Name: "target"}
	session.AddMember(owner)
	session.AddMember(target)
	session.AddChannel(platform.Channel{ID: 100, Name: "lounge"})

	require.NoError(t, coordinator.Add(ctx, owner, target.ID))
	require.NoError(t, coordinator.Remove(ctx, owner.ID, target.ID))

	session.Place(owner.ID, 100)
	session.Place(target.ID, 100)

	go coordinator.Run(ctx)
	coordinator.Enqueue(target, 100)

	require.Eventually(t, func() bool {
		return coordinator.QueueDepth() == 0
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 100, session.Location(target.ID))
}

func TestAutoKickRecordsKickLog(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	store, err := NewAutoKickStore(db)
	require.NoError(t, err)
	policy := NewTierPolicy(testTiers())

	session := platformtest.NewFakeSession()
	coordinator, err := NewAutoKickCoordinator(session, store, policy, db, AutoKickConfig{QueueSize: 4})
	require.NoError(t, err)

	ctx := context.Background()
	owner := goldOwner(1)
	target := platform.Member{ID: 2, Name: "target"}
	session.AddMember(owner)
	session.AddMember(target)
	session.AddChannel(platform.Channel{ID: 100, Name: "lounge"})
	session.Place(owner.ID, 100)
	session.Place(target.ID, 100)

	require.NoError(t, coordinator.Add(ctx, owner, target.ID))
	coordinator.evaluate(ctx, kickCheck{member: target, channelID: 100})

	var logs []models.KickLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	require.EqualValues(t, 2, logs[0].TargetID)
	require.EqualValues(t, 100, logs[0].ChannelID)
	require.NotEmpty(t, logs[0].ID)
}
