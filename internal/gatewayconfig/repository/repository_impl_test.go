package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenmeter/internal/dbtest"
	gatewayconfigdomain "github.com/smallbiznis/tokenmeter/internal/gatewayconfig/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGet(t *testing.T) {
	db := dbtest.Open(t)
	repo := Provide(Params{DB: db, Log: zap.NewNop()})
	hooks := "hooks-secret"
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.Create(&gatewayconfigdomain.GatewayConfig{
		AccountID:        10,
		BaseURL:          "http://gateway.internal:18789/",
		BearerToken:      "main-secret",
		HooksBearerToken: &hooks,
		UpdatedAt:        now,
	}).Error)
	require.NoError(t, db.Create(&gatewayconfigdomain.GatewayConfig{
		AccountID:   11,
		BaseURL:     "  ",
		BearerToken: "main-secret",
		UpdatedAt:   now,
	}).Error)

	cfg, err := repo.Get(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "http://gateway.internal:18789", cfg.BaseURL)
	assert.Equal(t, "hooks-secret", cfg.HooksToken())

	for _, id := range []snowflake.ID{0, 11, 12} {
		_, err := repo.Get(context.Background(), id)
		assert.ErrorIs(t, err, gatewayconfigdomain.ErrNotConfigured)
	}
}

func TestHooksTokenFallsBack(t *testing.T) {
	blank := " "
	cfg := gatewayconfigdomain.GatewayConfig{BearerToken: "main", HooksBearerToken: &blank}
	assert.Equal(t, "main", cfg.HooksToken())
	cfg.HooksBearerToken = nil
	assert.Equal(t, "main", cfg.HooksToken())
}
