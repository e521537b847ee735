package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"dailypair/internal/bot"
	"dailypair/internal/config"
	"dailypair/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	var cfg config.Config
	require.NoError(t, v.Unmarshal(&cfg))
	cfg.DataDir = t.TempDir()
	cfg.Timezone = "UTC"
	require.NoError(t, cfg.Validate())
	return &cfg
}

func runChecks(t *testing.T, rt *Runtime) []string {
	t.Helper()
	var names []string
	for name, check := range rt.Checks() {
		assert.NoError(t, check(context.Background()), name)
		names = append(names, name)
	}
	return names
}

func TestInitRuntimeFileStore(t *testing.T) {
	cfg := testConfig(t)
	rt, err := InitRuntime(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	assert.Nil(t, rt.DB)
	assert.Nil(t, rt.Redis)
	assert.ElementsMatch(t, []string{"store"}, runChecks(t, rt))

	reply := rt.Dispatcher.Handle(context.Background(), bot.Event{
		GroupID: "1", UserID: "2", SelfID: "3", Text: "/menu",
	})
	require.NotNil(t, reply)
	assert.Contains(t, reply.Text, "/pair")
}

func TestInitRuntimeSQLiteStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreDriver = "sqlite"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "store", "dailypair.db")

	rt, err := InitRuntime(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	require.NotNil(t, rt.DB)
	assert.ElementsMatch(t, []string{"store", "database"}, runChecks(t, rt))

	ev := bot.Event{GroupID: "1", UserID: "2", SelfID: "3", Text: "/block 4", Session: "s"}
	assert.Contains(t, rt.Dispatcher.Handle(context.Background(), ev).Text, "Blocked 4")

	raw, err := rt.Store.Raw(context.Background(), repository.DocUserBlocklists)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"4"`)
}

func TestInitRuntimeRedisUsage(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.UsageBackend = "redis"
	cfg.RedisURL = mr.Addr()

	rt, err := InitRuntime(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	require.NotNil(t, rt.Redis)
	assert.ElementsMatch(t, []string{"store", "redis"}, runChecks(t, rt))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rt.StartBackground(ctx))
}

func TestInitRuntimeRedisFallsBackToMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.UsageBackend = "redis"
	cfg.RedisURL = "127.0.0.1:1"

	rt, err := InitRuntime(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, rt.Redis)
	assert.NotNil(t, rt.Usage)
}
