package metrics

import (
	"database/sql"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// RegisterRuntime adds the Go runtime, process and connection pool collectors
// to reg. Collectors reg already has are skipped, so the default registerer
// is safe to pass.
func RegisterRuntime(reg prometheus.Registerer, pool *sql.DB, dbName string) error {
	if reg == nil {
		return nil
	}
	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	if pool != nil {
		cs = append(cs, collectors.NewDBStatsCollector(pool, dbName))
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			var dup prometheus.AlreadyRegisteredError
			if errors.As(err, &dup) {
				continue
			}
			return err
		}
	}
	return nil
}
