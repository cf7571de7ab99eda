// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/mpheat/internal/model"
)

// MetricsCollector はメトリクス収集のインターフェース。
// クロールワーカーや拡散シグナルのバッチから利用する。
type MetricsCollector interface {
	RecordCrawlSuccess(accountID string)
	RecordCrawlFailure(accountID string, reason string)
	RecordParseFailure(accountID string)
	RecordHTTPStatus(statusCode int)
	RecordCrawlLatency(duration time.Duration)
	RecordArticlesUpserted(count int)
	RecordQuotaStop()
	SetCrawlerMode(mode model.CrawlerMode)
	RecordBuzzUpdated(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	crawlSuccess     prometheus.Counter
	crawlFail        *prometheus.CounterVec
	parseFail        prometheus.Counter
	httpStatus       *prometheus.CounterVec
	crawlLatency     prometheus.Histogram
	articlesUpserted prometheus.Counter
	quotaStops       prometheus.Counter
	crawlerSlow      prometheus.Gauge
	buzzUpdated      prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		crawlSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mpheat_crawl_success_total",
			Help: "アカウント単位のクロール成功の合計数",
		}),
		crawlFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mpheat_crawl_fail_total",
			Help: "アカウント単位のクロール失敗の合計数",
		}, []string{"reason"}),
		parseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mpheat_parse_fail_total",
			Help: "記事ページの解析失敗の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mpheat_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		crawlLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mpheat_crawl_latency_seconds",
			Help:    "アカウント単位のクロール所要時間（秒）",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		articlesUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mpheat_articles_upserted_total",
			Help: "保存された記事の合計数",
		}),
		quotaStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mpheat_daily_quota_stops_total",
			Help: "日次クォータ到達でクロールを打ち切った回数",
		}),
		crawlerSlow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mpheat_crawler_slow_mode",
			Help: "クローラーがslowモードなら1、normalモードなら0",
		}),
		buzzUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mpheat_buzz_updated_total",
			Help: "拡散シグナルを更新した記事の合計数",
		}),
	}

	reg.MustRegister(
		c.crawlSuccess,
		c.crawlFail,
		c.parseFail,
		c.httpStatus,
		c.crawlLatency,
		c.articlesUpserted,
		c.quotaStops,
		c.crawlerSlow,
		c.buzzUpdated,
	)

	return c
}

// RecordCrawlSuccess はクロール成功を記録する。
func (c *Collector) RecordCrawlSuccess(accountID string) {
	c.crawlSuccess.Inc()
}

// RecordCrawlFailure はクロール失敗を理由ラベル付きで記録する。
func (c *Collector) RecordCrawlFailure(accountID string, reason string) {
	c.crawlFail.WithLabelValues(reason).Inc()
}

// RecordParseFailure は記事ページの解析失敗を記録する。
func (c *Collector) RecordParseFailure(accountID string) {
	c.parseFail.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。0は通信エラー。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordCrawlLatency はクロールの所要時間を記録する。
func (c *Collector) RecordCrawlLatency(duration time.Duration) {
	c.crawlLatency.Observe(duration.Seconds())
}

// RecordArticlesUpserted は保存された記事数を記録する。
func (c *Collector) RecordArticlesUpserted(count int) {
	c.articlesUpserted.Add(float64(count))
}

// RecordQuotaStop は日次クォータによる打ち切りを記録する。
func (c *Collector) RecordQuotaStop() {
	c.quotaStops.Inc()
}

// SetCrawlerMode は現在のクローラーモードを記録する。
func (c *Collector) SetCrawlerMode(mode model.CrawlerMode) {
	if mode == model.CrawlerModeSlow {
		c.crawlerSlow.Set(1)
		return
	}
	c.crawlerSlow.Set(0)
}

// RecordBuzzUpdated は拡散シグナルを更新した記事数を記録する。
func (c *Collector) RecordBuzzUpdated(count int) {
	c.buzzUpdated.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。メトリクスを公開しないプロセスで使う。
type Nop struct{}

func (Nop) RecordCrawlSuccess(string) {}
func (Nop) RecordCrawlFailure(string, string) {}
func (Nop) RecordParseFailure(string) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordCrawlLatency(time.Duration) {}
func (Nop) RecordArticlesUpserted(int) {}
func (Nop) RecordQuotaStop() {}
func (Nop) SetCrawlerMode(model.CrawlerMode) {}
func (Nop) RecordBuzzUpdated(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// ワーカープロセスが単独でメトリクスを公開する場合に使う。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
