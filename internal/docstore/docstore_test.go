package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/postgres"
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	port, _ := strconv.Atoi(envOrDefault("TEST_POSTGRES_PORT", "5432"))
	cfg := config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            port,
		Database:        envOrDefault("TEST_POSTGRES_DB", "searchplatform_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "searchplatform"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client, err := postgres.New(ctx, cfg)
	if err != nil {
		t.Skipf("skipping docstore test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.EnsureSchema(context.Background()))
	return client
}

func TestStore_UpsertAndTitles(t *testing.T) {
	client := skipIfNoPostgres(t)
	store := New(client.DB)
	ctx := context.Background()
	prefix := fmt.Sprintf("docstore-test-%d-", time.Now().UnixNano())
	a, b := prefix+"a", prefix+"b"
	t.Cleanup(func() {
		_, _ = client.DB.Exec(`DELETE FROM documents WHERE id LIKE $1`, prefix+"%")
	})

	require.NoError(t, store.Upsert(ctx, a, "Quick Fox", StatusIndexed))
	require.NoError(t, store.Upsert(ctx, b, "Lazy Dog", StatusFailed))
	require.NoError(t, store.Upsert(ctx, b, "", StatusIndexed))

	titles, err := store.Titles(ctx, []string{a, b, prefix + "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{a: "Quick Fox", b: "Lazy Dog"}, titles)

	status, err := store.Status(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, StatusIndexed, status)

	_, err = store.Status(ctx, prefix+"missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	titles, err = store.Titles(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, titles)
}
