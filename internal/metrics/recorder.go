package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome 是 fetch 结果标签。
type Outcome string

const (
	OutcomeHit      Outcome = "hit"
	OutcomeMiss     Outcome = "miss"
	OutcomeNetwork  Outcome = "network"
	OutcomeFallback Outcome = "fallback"
	OutcomeFailed   Outcome = "failed"
	OutcomeBypass   Outcome = "bypass"
)

// Recorder 使用独立 Registry 暴露 worker 指标；nil Recorder 上的方法均为空操作。
type Recorder struct {
	once           sync.Once
	registry       *prom.Registry
	fetchTotal     *prom.CounterVec
	fetchDuration  *prom.HistogramVec
	lifecycle      *prom.CounterVec
	bucketsDeleted prom.Counter
}

// NewRecorder 构建并注册指标；reg 为空时创建新的 Registry。
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{registry: reg}
	r.once.Do(func() {
		r.fetchTotal = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "tribu_cache",
			Name:      "fetch_total",
			Help:      "Fetch events by strategy and outcome",
		}, []string{"strategy", "outcome"})
		r.fetchDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "tribu_cache",
			Name:      "fetch_duration_seconds",
			Help:      "Fetch event handling duration",
			Buckets:   prom.DefBuckets,
		}, []string{"strategy"})
		r.lifecycle = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "tribu_cache",
			Name:      "lifecycle_total",
			Help:      "Worker lifecycle transitions by event and result",
		}, []string{"event", "result"})
		r.bucketsDeleted = prom.NewCounter(prom.CounterOpts{
			Namespace: "tribu_cache",
			Name:      "buckets_deleted_total",
			Help:      "Stale buckets removed on activation",
		})
		reg.MustRegister(r.fetchTotal, r.fetchDuration, r.lifecycle, r.bucketsDeleted)
	})
	return r
}

// ObserveFetch 记录一次 fetch 事件。
func (r *Recorder) ObserveFetch(strategy string, outcome Outcome, d time.Duration) {
	if r == nil || r.fetchTotal == nil {
		return
	}
	r.fetchTotal.WithLabelValues(strategy, string(outcome)).Inc()
	r.fetchDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// IncLifecycle 记录 install/activate 结果。
func (r *Recorder) IncLifecycle(event string, success bool) {
	if r == nil || r.lifecycle == nil {
		return
	}
	result := "failed"
	if success {
		result = "success"
	}
	r.lifecycle.WithLabelValues(event, result).Inc()
}

func (r *Recorder) IncBucketsDeleted() {
	if r == nil || r.bucketsDeleted == nil {
		return
	}
	r.bucketsDeleted.Inc()
}

// Registry 返回底层 Registry，便于测试读取。
func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler 返回 /-/metrics 使用的 http.Handler。
func (r *Recorder) Handler() http.Handler {
	if r == nil || r.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
