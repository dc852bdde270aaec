package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testDatabaseEnv = "LINE_OEE_TEST_DATABASE_URL"

func TestPostgresStore(t *testing.T) {
	url := os.Getenv(testDatabaseEnv)
	if url == "" {
		t.Skipf("%s not set", testDatabaseEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := NewPostgres(ctx, url, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	runStoreSuite(t, p)
}

func TestLikeEscaper(t *testing.T) {
	require.Equal(t, `P\_1\%-01-01-2026-M\\1`, likeEscaper.Replace(`P_1%-01-01-2026-M\1`))
}
