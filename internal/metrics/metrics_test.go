package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegisterDBPoolCollector(t *testing.T) {
	m := New()
	m.RegisterDBPoolCollector(func() (total, idle, acquired int32) {
		return 5, 3, 2
	})

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gathering metrics: %v", err)
	}

	got := map[string]float64{}
	for _, f := range families {
		switch f.GetName() {
		case "wicket_db_pool_total_conns", "wicket_db_pool_idle_conns", "wicket_db_pool_acquired_conns":
			got[f.GetName()] = f.GetMetric()[0].GetGauge().GetValue()
		}
	}

	want := map[string]float64{
		"wicket_db_pool_total_conns":    5,
		"wicket_db_pool_idle_conns":     3,
		"wicket_db_pool_acquired_conns": 2,
	}
	for name, value := range want {
		if got[name] != value {
			t.Errorf("%s: expected %v, got %v", name, value, got[name])
		}
	}
}

func TestHandlerReportsPoolStats(t *testing.T) {
	m := New()
	m.RegisterDBPoolCollector(func() (total, idle, acquired int32) {
		return 4, 1, 3
	})

	rec := httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var summary Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if summary.DB.TotalConns != 4 || summary.DB.IdleConns != 1 || summary.DB.AcquiredConns != 3 {
		t.Errorf("unexpected pool stats in summary: %+v", summary.DB)
	}
}
