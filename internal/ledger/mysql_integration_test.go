//go:build integration

package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/ecoscout/ecoscout-go/internal/conf"
)

// TestMySQLLedger runs the ledger against a real MySQL container.
// Requires Docker.
func TestMySQLLedger(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := mysql.Run(ctx, "mysql:8.0.36",
		mysql.WithDatabase("ecoscout"),
		mysql.WithUsername("ecoscout"),
		mysql.WithPassword("ecoscout"),
	)
	require.NoError(t, err, "failed to start mysql container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	backend, err := OpenMySQL(conf.MySQLSettings{
		Host:     host,
		Port:     port.Int(),
		Username: "ecoscout",
		Password: "ecoscout",
		Database: "ecoscout",
	})
	require.NoError(t, err)

	l := New(backend)
	t.Cleanup(func() { _ = l.Close() })

	require.NoError(t, l.Append(ctx, testRecord("a", 1)))
	require.NoError(t, l.Append(ctx, testRecord("b", 2)))
	assert.Equal(t, []string{"b", "a"}, ids(l.ListAll(ctx)))

	rec, ok := l.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, testRecord("a", 1), rec)

	n, err := l.DeleteByIDs(ctx, []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a"}, ids(l.ListAll(ctx)))
}
