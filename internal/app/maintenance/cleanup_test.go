package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arkadian/voicelounge/internal/database/testutil"
	"github.com/arkadian/voicelounge/internal/models"
	"github.com/arkadian/voicelounge/internal/platform"
	"github.com/arkadian/voicelounge/internal/platform/platformtest"
	"github.com/arkadian/voicelounge/internal/services"
)

func newSweepFixture(t *testing.T) (*Cleaner, *platformtest.FakeSession, *services.ChannelRegistry) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	store, err := services.NewPermissionStore(db)
	require.NoError(t, err)
	registry, err := services.NewChannelRegistry(db)
	require.NoError(t, err)

	session := platformtest.NewFakeSession()
	lifecycle, err := services.NewLifecycleManager(session, store, registry, services.LifecycleConfig{
		CreationChannels: []int64{300},
		DeletionGrace:    time.Second,
		EveryoneID:       900,
	})
	require.NoError(t, err)

	cleaner := NewCleaner(db, lifecycle, registry)
	return cleaner, session, registry
}

func TestSweepRemovesDrainedChannels(t *testing.T) {
	cleaner, session, registry := newSweepFixture(t)
	ctx := context.Background()

	// One empty channel, one occupied, one already gone from the platform.
	session.AddChannel(platform.Channel{ID: 100})
	session.AddChannel(platform.Channel{ID: 101})
	session.Place(5, 101)
	require.NoError(t, registry.Register(ctx, 100, 1, 9))
	require.NoError(t, registry.Register(ctx, 101, 2, 9))
	require.NoError(t, registry.Register(ctx, 102, 3, 9))

	swept, err := cleaner.SweepChannels(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, swept)

	require.False(t, session.HasChannel(100))
	require.True(t, session.HasChannel(101))
	require.True(t, registry.IsManaged(101))
	require.False(t, registry.IsManaged(102))
}

func TestKickLogRetention(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	ctx := context.Background()

	old := models.KickLog{TargetID: 1, ChannelID: 100}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Model(&models.KickLog{}).
		Where("id = ?", old.ID).
		Update("created_at", time.Now().AddDate(0, 0, -60)).Error)

	fresh := models.KickLog{TargetID: 2, ChannelID: 100}
	require.NoError(t, db.Create(&fresh).Error)

	removed, err := CleanupKickLogs(ctx, db, time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var remaining []models.KickLog
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.EqualValues(t, 2, remaining[0].TargetID)
}

func TestRunOnceCombinesJobs(t *testing.T) {
	cleaner, session, registry := newSweepFixture(t)
	ctx := context.Background()

	session.AddChannel(platform.Channel{ID: 100})
	require.NoError(t, registry.Register(ctx, 100, 1, 9))

	require.NoError(t, cleaner.RunOnce(ctx))
	require.False(t, session.HasChannel(100))
}

func TestCleanerDisabledWithoutDeps(t *testing.T) {
	cleaner := NewCleaner(nil, nil, nil)
	require.NoError(t, cleaner.Start())
	require.NoError(t, cleaner.RunOnce(context.Background()))
}
