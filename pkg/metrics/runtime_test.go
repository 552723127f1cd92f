package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestRegisterRuntimeExposesPoolStats(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	pool, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterRuntime(reg, pool, "donations"))
	require.NoError(t, RegisterRuntime(reg, pool, "donations"), "second registration is a no-op")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	require.True(t, names["go_goroutines"])
	require.True(t, names["go_sql_max_open_connections"])
}

func TestRegisterRuntimeNilRegistererIsNoop(t *testing.T) {
	require.NoError(t, RegisterRuntime(nil, nil, ""))
}
