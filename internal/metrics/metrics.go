// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 同期ワーカーとプラットフォームクライアントから利用する。
type MetricsCollector interface {
	RecordPlatformRequest(endpoint string, statusCode int, duration time.Duration)
	RecordBreakerState(state string)
	RecordSyncRun(duration time.Duration, failed bool)
	RecordUsers(processed, skipped int)
	RecordAssignments(created, updated int)
	RecordConflictsCreated(count int)
	RecordGradesMerged(count int)
	RecordSyncErrors(count int)
	RecordConflictsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	platformStatus  *prometheus.CounterVec
	platformLatency *prometheus.HistogramVec
	breakerState    *prometheus.GaugeVec
	syncRuns        *prometheus.CounterVec
	syncDuration    prometheus.Histogram
	users           *prometheus.CounterVec
	assignments     *prometheus.CounterVec
	conflicts       prometheus.Counter
	gradesMerged    prometheus.Counter
	syncErrors      prometheus.Counter
	conflictsPurged prometheus.Counter
}

// breakerStates はサーキットブレーカーの状態ラベル。
var breakerStates = []string{"closed", "half-open", "open"}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		platformStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursesync_platform_requests_total",
			Help: "外部プラットフォームへのリクエスト数（エンドポイント・ステータス別）",
		}, []string{"endpoint", "status_code"}),
		platformLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coursesync_platform_request_seconds",
			Help:    "外部プラットフォームへのリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coursesync_platform_breaker_state",
			Help: "サーキットブレーカーの現在の状態（該当状態のみ1）",
		}, []string{"state"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursesync_sync_runs_total",
			Help: "同期実行の合計数",
		}, []string{"outcome"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coursesync_sync_duration_seconds",
			Help:    "同期1回あたりの所要時間（秒）",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		users: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursesync_sync_users_total",
			Help: "同期で処理・スキップされたユーザー数",
		}, []string{"result"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursesync_sync_assignments_total",
			Help: "同期で作成・更新された課題数",
		}, []string{"action"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursesync_sync_conflicts_created_total",
			Help: "同期で作成された競合の合計数",
		}),
		gradesMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursesync_sync_grades_merged_total",
			Help: "成績台帳に反映された点数の合計数",
		}),
		syncErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursesync_sync_errors_total",
			Help: "同期中に記録されたエラーの合計数",
		}),
		conflictsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursesync_conflicts_purged_total",
			Help: "保持期間を過ぎて削除された解決済み競合の合計数",
		}),
	}

	reg.MustRegister(
		c.platformStatus,
		c.platformLatency,
		c.breakerState,
		c.syncRuns,
		c.syncDuration,
		c.users,
		c.assignments,
		c.conflicts,
		c.gradesMerged,
		c.syncErrors,
		c.conflictsPurged,
	)

	return c
}

// RecordPlatformRequest はプラットフォームへのリクエスト結果を記録する。
// 通信エラーでステータスがない場合はstatusCodeに0を渡す。
func (c *Collector) RecordPlatformRequest(endpoint string, statusCode int, duration time.Duration) {
	c.platformStatus.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	c.platformLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordBreakerState はサーキットブレーカーの状態を記録する。
func (c *Collector) RecordBreakerState(state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.breakerState.WithLabelValues(s).Set(v)
	}
}

// RecordSyncRun は同期1回の所要時間と結果を記録する。
func (c *Collector) RecordSyncRun(duration time.Duration, failed bool) {
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	c.syncRuns.WithLabelValues(outcome).Inc()
	c.syncDuration.Observe(duration.Seconds())
}

// RecordUsers は処理・スキップしたユーザー数を記録する。
func (c *Collector) RecordUsers(processed, skipped int) {
	c.users.WithLabelValues("processed").Add(float64(processed))
	c.users.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordAssignments は作成・更新した課題数を記録する。
func (c *Collector) RecordAssignments(created, updated int) {
	c.assignments.WithLabelValues("created").Add(float64(created))
	c.assignments.WithLabelValues("updated").Add(float64(updated))
}

// RecordConflictsCreated は作成した競合数を記録する。
func (c *Collector) RecordConflictsCreated(count int) {
	c.conflicts.Add(float64(count))
}

// RecordGradesMerged は成績台帳に反映した点数の数を記録する。
func (c *Collector) RecordGradesMerged(count int) {
	c.gradesMerged.Add(float64(count))
}

// RecordSyncErrors は同期中のエラー数を記録する。
func (c *Collector) RecordSyncErrors(count int) {
	c.syncErrors.Add(float64(count))
}

// RecordConflictsPurged は削除した解決済み競合の数を記録する。
func (c *Collector) RecordConflictsPurged(count int64) {
	c.conflictsPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type NopCollector struct{}

func (NopCollector) RecordPlatformRequest(string, int, time.Duration) {}
func (NopCollector) RecordBreakerState(string)                        {}
func (NopCollector) RecordSyncRun(time.Duration, bool)                {}
func (NopCollector) RecordUsers(int, int)                             {}
func (NopCollector) RecordAssignments(int, int)                       {}
func (NopCollector) RecordConflictsCreated(int)                       {}
func (NopCollector) RecordGradesMerged(int)                           {}
func (NopCollector) RecordSyncErrors(int)                             {}
func (NopCollector) RecordConflictsPurged(int64)                      {}
