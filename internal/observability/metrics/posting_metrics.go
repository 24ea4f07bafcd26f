package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/stockledger/internal/apperror"
	"gorm.io/gorm"
)

const (
	PostingReasonDeadlineExceeded     = "deadline_exceeded"
	PostingReasonDBLockTimeout        = "db_lock_timeout"
	PostingReasonSerializationFailure = "serialization_failure"
	PostingReasonUniqueViolation      = "unique_violation"
	PostingReasonValidation           = "validation"
	PostingReasonImmutable            = "immutable_state"
	PostingReasonRateNotFound         = "rate_not_found"
	PostingReasonLockConflict         = "lock_conflict"
	PostingReasonUnknown              = "unknown"
)

const (
	OperationJournalPost   = "journal_post"
	OperationInventoryPost = "inventory_post"
	OperationFiscalClose   = "fiscal_close"
)

// PostingMetrics captures posting throughput, latency and rejections.
type PostingMetrics struct {
	postings       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	rejections     *prometheus.CounterVec
	lockWait       *prometheus.HistogramVec
	layersConsumed *prometheus.CounterVec
}

var (
	postingMetricsOnce sync.Once
	postingMetrics     *PostingMetrics
)

// Posting returns the singleton posting metrics registry.
func Posting() *PostingMetrics {
	return PostingWithConfig(Config{})
}

// PostingWithConfig returns the singleton posting metrics registry using config labels.
func PostingWithConfig(cfg Config) *PostingMetrics {
	postingMetricsOnce.Do(func() {
		postingMetrics = newPostingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return postingMetrics
}

// ResetPostingMetricsForTest resets the posting metrics singleton for tests.
func ResetPostingMetricsForTest() {
	postingMetricsOnce = sync.Once{}
	postingMetrics = nil
}

func newPostingMetrics(registerer prometheus.Registerer, cfg Config) *PostingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "stockledger"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "stockledger_postings_total",
		Help:        "Committed postings by operation.",
		ConstLabels: constLabels,
	}, []string{"operation"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "stockledger_posting_duration_seconds",
		Help:        "Posting latency from lock acquisition to commit.",
		Buckets:     []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		ConstLabels: constLabels,
	}, []string{"operation"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "stockledger_posting_rejections_total",
		Help:        "Rejected postings by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"operation", "reason"})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "stockledger_lock_wait_seconds",
		Help:        "Time spent waiting for per-entity posting locks.",
		Buckets:     []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		ConstLabels: constLabels,
	}, []string{"resource"})
	layersConsumed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "stockledger_cost_layers_consumed_total",
		Help:        "Cost layers drawn down by issues.",
		ConstLabels: constLabels,
	}, []string{"costing_method"})

	registerer.MustRegister(postings, duration, rejections, lockWait, layersConsumed)

	return &PostingMetrics{
		postings:       postings,
		duration:       duration,
		rejections:     rejections,
		lockWait:       lockWait,
		layersConsumed: layersConsumed,
	}
}

// ObservePosting records a posting outcome and its latency.
func (m *PostingMetrics) ObservePosting(operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
	if err != nil {
		m.rejections.WithLabelValues(operation, ClassifyPostingReason(err)).Inc()
		return
	}
	m.postings.WithLabelValues(operation).Inc()
}

// ObserveLockWait records how long a lock on resource took to acquire.
func (m *PostingMetrics) ObserveLockWait(resource string, wait time.Duration) {
	if m == nil {
		return
	}
	if wait < 0 {
		wait = 0
	}
	m.lockWait.WithLabelValues(resource).Observe(wait.Seconds())
}

// AddLayersConsumed counts cost layers drawn down under a costing method.
func (m *PostingMetrics) AddLayersConsumed(method string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.layersConsumed.WithLabelValues(method).Add(float64(count))
}

// ClassifyPostingReason maps an error to a low-cardinality reason label.
// Invariant violations report their own code.
func ClassifyPostingReason(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return PostingReasonDeadlineExceeded
	}

	switch apperror.KindOf(err) {
	case apperror.KindValidation:
		return PostingReasonValidation
	case apperror.KindInvariant:
		return apperror.CodeOf(err)
	case apperror.KindImmutable:
		return PostingReasonImmutable
	case apperror.KindRateNotFound:
		return PostingReasonRateNotFound
	case apperror.KindLockConflict:
		return PostingReasonLockConflict
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return PostingReasonDBLockTimeout
		case "40001", "40P01":
			return PostingReasonSerializationFailure
		case "23505":
			return PostingReasonUniqueViolation
		}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return PostingReasonUniqueViolation
	}
	if msg := err.Error(); strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return PostingReasonDBLockTimeout
	}
	return PostingReasonUnknown
}
