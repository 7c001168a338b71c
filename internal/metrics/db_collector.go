package metrics

import "github.com/prometheus/client_golang/prometheus"

// DBPoolStatFunc reports token store connection pool statistics. It keeps
// this package free of a driver dependency; the caller closes over
// pgxpool.Stat.
type DBPoolStatFunc func() (total, idle, acquired int32)

// RegisterDBPoolCollector exposes the pool stats as gauges evaluated at
// scrape time. Call once, only when the gateway runs on the Postgres store.
func (m *Metrics) RegisterDBPoolCollector(stat DBPoolStatFunc) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wicket_db_pool_total_conns",
			Help: "Connections currently held by the token store pool.",
		}, func() float64 {
			total, _, _ := stat()
			return float64(total)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wicket_db_pool_idle_conns",
			Help: "Idle connections in the token store pool.",
		}, func() float64 {
			_, idle, _ := stat()
			return float64(idle)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wicket_db_pool_acquired_conns",
			Help: "Connections checked out of the token store pool.",
		}, func() float64 {
			_, _, acquired := stat()
			return float64(acquired)
		}),
	)
}
