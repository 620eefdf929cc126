package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonNotification         = "notification"
	JobReasonDB                   = "db"
	JobReasonUnknown              = "unknown"
)

const (
	ComponentSubscription = "subscription"
	ComponentRetention    = "retention"
	ComponentReferral     = "referral"
	ComponentAlert        = "alert"
)

// notificationError is satisfied by notification delivery failures without importing that package.
type notificationError interface {
	NotificationFailure() bool
}

// JobMetrics captures lifecycle job health signals.
type JobMetrics struct {
	jobRuns              *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	jobTimeouts          *prometheus.CounterVec
	jobErrors            *prometheus.CounterVec
	jobSkipped           *prometheus.CounterVec
	entitiesProcessed    *prometheus.CounterVec
	entityFailures       *prometheus.CounterVec
	transitions          *prometheus.CounterVec
	earningsCreated      *prometheus.CounterVec
	alertsFired          prometheus.Counter
	notificationFailures *prometheus.CounterVec
	runLoopLag           prometheus.Observer
}

var (
	jobMetricsOnce sync.Once
	jobMetrics     *JobMetrics
)

// Jobs returns the singleton job metrics registered on the default registerer.
func Jobs() *JobMetrics {
	return JobsWithConfig(Config{})
}

// JobsWithConfig returns the singleton using config labels on first call.
func JobsWithConfig(cfg Config) *JobMetrics {
	jobMetricsOnce.Do(func() {
		jobMetrics = NewJobMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return jobMetrics
}

// ResetJobMetricsForTest resets the singleton so tests can swap registries.
func ResetJobMetricsForTest() {
	jobMetricsOnce = sync.Once{}
	jobMetrics = nil
}

func NewJobMetrics(registerer prometheus.Registerer, cfg Config) *JobMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "lifecycle"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &JobMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lifecycle_job_runs_total",
			Help:        "Lifecycle job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "lifecycle_job_duration_seconds",
			Help:        "Lifecycle job latency.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lifecycle_job_timeouts_total",
			Help:        "Lifecycle job timeouts.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lifecycle_job_errors_total",
			Help:        "Systemic lifecycle job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		jobSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lifecycle_job_skipped_total",
			Help:        "Job runs skipped because another run holds the job lock.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		entitiesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lifecycle_entities_processed_total",
			Help:        "Entities evaluated per component.",
			ConstLabels: constLabels,
		}, []string{"component"}),
		entityFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lifecycle_entity_failures_total",
			Help:        "Per-entity evaluation failures by reason.",
			ConstLabels: constLabels,
		}, []string{"component", "reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lifecycle_transitions_total",
			Help:        "State transitions applied by component.",
			ConstLabels: constLabels,
		}, []string{"component", "from", "to"}),
		earningsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lifecycle_referral_earnings_created_total",
			Help:        "Referral earnings created by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		alertsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "lifecycle_alerts_fired_total",
			Help:        "Alert rules fired.",
			ConstLabels: constLabels,
		}),
		notificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lifecycle_notification_failures_total",
			Help:        "Notification dispatch failures by template.",
			ConstLabels: constLabels,
		}, []string{"template"}),
	}
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "lifecycle_runloop_lag_seconds",
		Help:        "Scheduler run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		ConstLabels: constLabels,
	})
	m.runLoopLag = runLoopLag

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.jobSkipped,
		m.entitiesProcessed,
		m.entityFailures,
		m.transitions,
		m.earningsCreated,
		m.alertsFired,
		m.notificationFailures,
		runLoopLag,
	)
	return m
}

func (m *JobMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *JobMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *JobMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *JobMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *JobMetrics) IncJobSkipped(job string) {
	if m == nil {
		return
	}
	m.jobSkipped.WithLabelValues(job).Inc()
}

func (m *JobMetrics) IncEntityProcessed(component string) {
	if m == nil {
		return
	}
	m.entitiesProcessed.WithLabelValues(component).Inc()
}

func (m *JobMetrics) IncEntityFailure(component string, err error) {
	if m == nil || err == nil {
		return
	}
	m.entityFailures.WithLabelValues(component, ClassifyJobReason(err)).Inc()
}

func (m *JobMetrics) IncTransition(component, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(component, from, to).Inc()
}

func (m *JobMetrics) IncEarningCreated(kind string) {
	if m == nil {
		return
	}
	m.earningsCreated.WithLabelValues(kind).Inc()
}

func (m *JobMetrics) IncAlertFired() {
	if m == nil {
		return
	}
	m.alertsFired.Inc()
}

func (m *JobMetrics) IncNotificationFailure(template string) {
	if m == nil {
		return
	}
	m.notificationFailures.WithLabelValues(template).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *JobMetrics) ObserveRunLoopLag(lag time.Duration) {
	if m == nil {
		return
	}
	if lag < 0 {
		lag = 0
	}
	m.runLoopLag.Observe(lag.Seconds())
}

// ClassifyJobReason maps errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	switch {
	case err == nil:
		return JobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return JobReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return JobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return JobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505"):
		return JobReasonUniqueViolation
	case isNotificationError(err):
		return JobReasonNotification
	case IsDBError(err):
		return JobReasonDB
	default:
		return JobReasonUnknown
	}
}

// IsRetryable reports whether the next scheduled run is likely to succeed where this one failed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if isNotificationError(err) {
		return true
	}
	return IsDBError(err)
}

// IsDBError reports whether err originates from the database layer.
func IsDBError(err error) bool {
	if err == nil || errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

func isNotificationError(err error) bool {
	var target notificationError
	return errors.As(err, &target) && target.NotificationFailure()
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
