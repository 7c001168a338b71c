package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the metrics endpoint.
type Summary struct {
	Mode      string        `json:"mode"`
	HTTP      httpSummary   `json:"http"`
	Auth      authInfo      `json:"auth"`
	Sessions  sessionInfo   `json:"sessions"`
	Guards    guardInfo     `json:"guards"`
	Proxy     proxySummary  `json:"proxy"`
	RateLimit rateLimitInfo `json:"rateLimit"`
	Collector collectorInfo `json:"collector"`
	DB        dbInfo        `json:"db"`
	Server    serverInfo    `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type authInfo struct {
	Logins          float64 `json:"logins"`
	LoginFailures   float64 `json:"loginFailures"`
	Refreshes       float64 `json:"refreshes"`
	SharedRefreshes float64 `json:"sharedRefreshes"`
	Logouts         float64 `json:"logouts"`
}

type sessionInfo struct {
	Active float64 `json:"active"`
}

type guardInfo struct {
	Decisions float64 `json:"decisions"`
	Redirects float64 `json:"redirects"`
}

type proxySummary struct {
	TotalRequests  float64 `json:"totalRequests"`
	ActiveRequests float64 `json:"activeRequests"`
	Retries        float64 `json:"retries"`
	UpstreamErrors float64 `json:"upstreamErrors"`
	P50Upstream    float64 `json:"p50Upstream"`
	P95Upstream    float64 `json:"p95Upstream"`
}

type rateLimitInfo struct {
	Rejections float64 `json:"rejections"`
}

type collectorInfo struct {
	BufferSize   float64 `json:"bufferSize"`
	TotalFlushes float64 `json:"totalFlushes"`
	FlushErrors  float64 `json:"flushErrors"`
	Events       float64 `json:"events"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Handler returns an http.HandlerFunc that serves live metrics in JSON format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.handleLive(w)
	}
}

func (m *Metrics) handleLive(w http.ResponseWriter) {
	families, err := m.registry.Gather()
	if err != nil {
		http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
		return
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	summary := Summary{
		Mode: "live",
		HTTP: httpSummary{
			TotalRequests: sumCounter(fam["wicket_http_requests_total"]),
			ErrorRate:     computeErrorRate(fam["wicket_http_requests_total"]),
			P50Latency:    histogramPercentile(fam["wicket_http_request_duration_seconds"], 0.50),
			P95Latency:    histogramPercentile(fam["wicket_http_request_duration_seconds"], 0.95),
			P99Latency:    histogramPercentile(fam["wicket_http_request_duration_seconds"], 0.99),
		},
		Auth: authInfo{
			Logins:          counterWithLabels(fam["wicket_auth_operations_total"], map[string]string{"operation": "login", "outcome": "success"}),
			LoginFailures:   counterWithLabels(fam["wicket_auth_operations_total"], map[string]string{"operation": "login", "outcome": "failure"}),
			Refreshes:       counterWithLabels(fam["wicket_auth_operations_total"], map[string]string{"operation": "refresh"}),
			SharedRefreshes: counterValue(fam["wicket_refresh_shared_total"]),
			Logouts:         counterWithLabels(fam["wicket_auth_operations_total"], map[string]string{"operation": "logout"}),
		},
		Sessions: sessionInfo{
			Active: gaugeValue(fam["wicket_active_sessions"]),
		},
		Guards: guardInfo{
			Decisions: sumCounter(fam["wicket_guard_decisions_total"]),
			Redirects: counterWithLabels(fam["wicket_guard_decisions_total"], map[string]string{"action": "redirect"}),
		},
		Proxy: proxySummary{
			TotalRequests:  sumCounter(fam["wicket_proxy_requests_total"]),
			ActiveRequests: gaugeValue(fam["wicket_proxy_active_requests"]),
			Retries:        counterValue(fam["wicket_proxy_retries_total"]),
			UpstreamErrors: sumCounter(fam["wicket_proxy_upstream_errors_total"]),
			P50Upstream:    histogramPercentile(fam["wicket_proxy_upstream_duration_seconds"], 0.50),
			P95Upstream:    histogramPercentile(fam["wicket_proxy_upstream_duration_seconds"], 0.95),
		},
		RateLimit: rateLimitInfo{
			Rejections: sumCounter(fam["wicket_ratelimit_rejections_total"]),
		},
		Collector: collectorInfo{
			BufferSize:   gaugeValue(fam["wicket_collector_buffer_size"]),
			TotalFlushes: sumCounter(fam["wicket_collector_flushes_total"]),
			FlushErrors:  counterWithLabels(fam["wicket_collector_flushes_total"], map[string]string{"status": "error"}),
			Events:       counterValue(fam["wicket_collector_events_total"]),
		},
		DB: dbInfo{
			TotalConns:    gaugeValue(fam["wicket_db_pool_total_conns"]),
			IdleConns:     gaugeValue(fam["wicket_db_pool_idle_conns"]),
			AcquiredConns: gaugeValue(fam["wicket_db_pool_acquired_conns"]),
		},
		Server: serverInfo{
			StartTime:     gaugeValue(fam["wicket_server_start_time_seconds"]),
			UptimeSeconds: float64(time.Now().Unix()) - gaugeValue(fam["wicket_server_start_time_seconds"]),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	_ = json.NewEncoder(w).Encode(summary)
}

// --- Prometheus metric helpers ---

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetGauge() != nil {
		return ms[0].GetGauge().GetValue()
	}
	return 0
}

func counterValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetCounter() != nil {
		return ms[0].GetCounter().GetValue()
	}
	return 0
}

// counterWithLabels sums counters whose labels include every given pair.
func counterWithLabels(f *dto.MetricFamily, labels map[string]string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		matched := true
		for name, value := range labels {
			if !hasLabel(m, name, value) {
				matched = false
				break
			}
		}
		if matched && m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func computeErrorRate(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total, errors float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" {
				code := lp.GetValue()
				if len(code) > 0 && code[0] >= '4' {
					errors += v
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return errors / total
}

// histogramPercentile computes a percentile from aggregated histogram buckets
// using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	// Aggregate all histogram metrics in the family.
	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			// Linear interpolation within this bucket.
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	// If we didn't find it, return the last finite bucket upper bound.
	if len(buckets) > 0 {
		for i := len(buckets) - 1; i >= 0; i-- {
			if !math.IsInf(buckets[i].upperBound, 1) {
				return buckets[i].upperBound
			}
		}
	}
	return 0
}
