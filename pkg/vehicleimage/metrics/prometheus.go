package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/vehicle-images/pkg/vehicleimage"
)

// PrometheusObserver exports vehicle image operation metrics to Prometheus.
type PrometheusObserver struct {
	duration      *prometheus.HistogramVec
	errors        *prometheus.CounterVec
	compensations *prometheus.CounterVec
}

var _ vehicleimage.Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver registers the collectors on reg, reusing any that are
// already registered under the same names.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "vehicle_images"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Latency of image lifecycle operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"}))
	if err != nil {
		return nil, err
	}
	errs, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operation_errors_total",
		Help:      "Failed image lifecycle operations by error class.",
	}, []string{"operation", "class"}))
	if err != nil {
		return nil, err
	}
	compensations, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compensation_failures_total",
		Help:      "Rejected uploads whose object could not be deleted.",
	}, []string{"operation"}))
	if err != nil {
		return nil, err
	}

	return &PrometheusObserver{duration: duration, errors: errs, compensations: compensations}, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, fmt.Errorf("register vehicle image metric: %w", err)
	}
	return c, nil
}

func (o *PrometheusObserver) ObserveOperation(op string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		o.errors.WithLabelValues(op, ErrorClass(err)).Inc()
	}
}

func (o *PrometheusObserver) CompensationFailed(op string) {
	if o == nil {
		return
	}
	o.compensations.WithLabelValues(op).Inc()
}

// ErrorClass labels an error as "client" or "store".
func ErrorClass(err error) string {
	if vehicleimage.IsClientError(err) {
		return "client"
	}
	return "store"
}
