package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepulse/leaderboard-server/internal/config"
)

func TestBuildStore_InMemoryWhenNoDatabaseConfigured(t *testing.T) {
	t.Parallel()

	st, closeStore, err := buildStore(context.Background(), config.Default())
	require.NoError(t, err)
	require.NotNil(t, st)
	closeStore()

	// The in-memory store is usable immediately.
	users, err := st.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestLoadServerConfig_DefaultsWithoutFlag(t *testing.T) {
	cfg, err := loadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultAddress, cfg.Server.Address)
	assert.Nil(t, cfg.Database)
}
