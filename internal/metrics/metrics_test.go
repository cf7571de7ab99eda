package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/hitoshi/mpheat/internal/model"
)

// findMetricFamily はレジストリから指定名のメトリクスファミリーを探す。
func findMetricFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordCrawlSuccess_IncrementsCounter はクロール成功カウンタが増加することを検証する。
func TestRecordCrawlSuccess_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCrawlSuccess("acc-1")
	c.RecordCrawlSuccess("acc-2")

	mf := findMetricFamily(t, reg, "mpheat_crawl_success_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 2 {
		t.Errorf("crawl_success_total = %v, want 2", val)
	}
}

// TestRecordCrawlFailure_LabelsByReason はクロール失敗が理由ごとに数えられることを検証する。
func TestRecordCrawlFailure_LabelsByReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCrawlFailure("acc-1", "throttled")
	c.RecordCrawlFailure("acc-2", "throttled")
	c.RecordCrawlFailure("acc-3", "transport")

	mf := findMetricFamily(t, reg, "mpheat_crawl_fail_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		label := m.GetLabel()[0].GetValue()
		val := m.GetCounter().GetValue()
		switch label {
		case "throttled":
			if val != 2 {
				t.Errorf("crawl_fail_total{reason=throttled} = %v, want 2", val)
			}
		case "transport":
			if val != 1 {
				t.Errorf("crawl_fail_total{reason=transport} = %v, want 1", val)
			}
		default:
			t.Errorf("unexpected label value: %s", label)
		}
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(429)

	mf := findMetricFamily(t, reg, "mpheat_http_status_total")
	got := make(map[string]float64)
	for _, m := range mf.GetMetric() {
		got[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	if got["200"] != 2 || got["429"] != 1 || len(got) != 2 {
		t.Errorf("http_status_total = %v", got)
	}
}

// TestRecordCrawlLatency_ObservesHistogram はクロール所要時間のヒストグラムに値が記録されることを検証する。
func TestRecordCrawlLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCrawlLatency(500 * time.Millisecond)
	c.RecordCrawlLatency(3 * time.Second)

	h := findMetricFamily(t, reg, "mpheat_crawl_latency_seconds").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	// 合計は0.5 + 3.0 = 3.5秒
	if h.GetSampleSum() < 3.4 || h.GetSampleSum() > 3.6 {
		t.Errorf("sample_sum = %v, want ~3.5", h.GetSampleSum())
	}
}

// TestCountersAccumulate は件数系カウンタが加算されることを検証する。
func TestCountersAccumulate(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordArticlesUpserted(10)
	c.RecordArticlesUpserted(5)
	c.RecordBuzzUpdated(7)
	c.RecordQuotaStop()
	c.RecordParseFailure("acc-1")

	tests := map[string]float64{
		"mpheat_articles_upserted_total": 15,
		"mpheat_buzz_updated_total":      7,
		"mpheat_daily_quota_stops_total": 1,
		"mpheat_parse_fail_total":        1,
	}
	for name, want := range tests {
		if val := findMetricFamily(t, reg, name).GetMetric()[0].GetCounter().GetValue(); val != want {
			t.Errorf("%s = %v, want %v", name, val, want)
		}
	}
}

// TestSetCrawlerMode はクローラーモードのゲージを検証する。
func TestSetCrawlerMode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetCrawlerMode(model.CrawlerModeSlow)
	if val := findMetricFamily(t, reg, "mpheat_crawler_slow_mode").GetMetric()[0].GetGauge().GetValue(); val != 1 {
		t.Errorf("slow時は1であるべき: %v", val)
	}
	c.SetCrawlerMode(model.CrawlerModeNormal)
	if val := findMetricFamily(t, reg, "mpheat_crawler_slow_mode").GetMetric()[0].GetGauge().GetValue(); val != 0 {
		t.Errorf("normal時は0であるべき: %v", val)
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCrawlSuccess("acc-test")
	c.RecordCrawlFailure("acc-test", "transport")
	c.RecordHTTPStatus(200)
	c.RecordCrawlLatency(500 * time.Millisecond)
	c.RecordArticlesUpserted(3)

	for _, handler := range []http.Handler{Handler(reg), SetupMetricsRoute(reg)} {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		resp := w.Result()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		body, _ := io.ReadAll(resp.Body)
		for _, metric := range []string{
			"mpheat_crawl_success_total",
			"mpheat_crawl_fail_total",
			"mpheat_http_status_total",
			"mpheat_crawl_latency_seconds",
			"mpheat_articles_upserted_total",
		} {
			if !strings.Contains(string(body), metric) {
				t.Errorf("response body does not contain %q", metric)
			}
		}
	}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordCrawlSuccess("acc-a")
	c2.RecordCrawlSuccess("acc-b")
	c2.RecordCrawlSuccess("acc-b")

	val1 := findMetricFamily(t, reg1, "mpheat_crawl_success_total").GetMetric()[0].GetCounter().GetValue()
	val2 := findMetricFamily(t, reg2, "mpheat_crawl_success_total").GetMetric()[0].GetCounter().GetValue()
	if val1 != 1 {
		t.Errorf("reg1 crawl_success = %v, want 1", val1)
	}
	if val2 != 2 {
		t.Errorf("reg2 crawl_success = %v, want 2", val2)
	}
}
