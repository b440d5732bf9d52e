package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkadian/voicelounge/internal/app"
	"github.com/arkadian/voicelounge/internal/database/testutil"
	"github.com/arkadian/voicelounge/internal/platform/platformtest"
	"github.com/arkadian/voicelounge/internal/services"
)

func newRouterFixture(t *testing.T) (http.Handler, *services.ChannelRegistry) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	registry, err := services.NewChannelRegistry(db)
	require.NoError(t, err)
	kicks, err := services.NewAutoKickStore(db)
	require.NoError(t, err)
	policy := services.NewTierPolicy([]app.TierConfig{{Name: "gold", Moderators: 2, AutoKicks: 5}})
	coordinator, err := services.NewAutoKickCoordinator(platformtest.NewFakeSession(), kicks, policy, db, services.AutoKickConfig{QueueSize: 4})
	require.NoError(t, err)

	router, err := NewRouter(Deps{DB: db, Registry: registry, AutoKick: coordinator})
	require.NoError(t, err)
	return router, registry
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newRouterFixture(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["success"])
}

func TestStatsEndpoint(t *testing.T) {
	router, registry := newRouterFixture(t)
	require.NoError(t, registry.Register(context.Background(), 100, 1, 9))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			ActiveChannels int `json:"active_channels"`
			AutoKickQueue  int `json:"auto_kick_queue"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Equal(t, 1, body.Data.ActiveChannels)
	require.Equal(t, 0, body.Data.AutoKickQueue)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newRouterFixture(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "voicelounge_")
}
