package metrics

import (
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	deliveries         *prom.CounterVec
	handlerDuration    *prom.HistogramVec
	stepDuration       *prom.HistogramVec
	deploymentDuration *prom.HistogramVec
	lockRejected       prom.Counter
}

// NewPrometheusRecorder constructs and registers the collectors on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		deliveries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "hookbox",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by event and response status",
		}, []string{"event", "status"}),
		handlerDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "hookbox",
			Name:      "handler_duration_seconds",
			Help:      "Handler invocation duration by handler and result",
			Buckets:   prom.DefBuckets,
		}, []string{"handler", "result"}),
		stepDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "hookbox",
			Name:      "deployment_step_duration_seconds",
			Help:      "Deployment step duration by step and result",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"step", "result"}),
		deploymentDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "hookbox",
			Name:      "deployment_duration_seconds",
			Help:      "Total deployment duration by final result",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		lockRejected: prom.NewCounter(prom.CounterOpts{
			Namespace: "hookbox",
			Name:      "deployment_lock_rejected_total",
			Help:      "Deployments rejected because one was already running for the same repository and branch",
		}),
	}
	reg.MustRegister(pr.deliveries, pr.handlerDuration, pr.stepDuration, pr.deploymentDuration, pr.lockRejected)
	return pr
}

func (p *PrometheusRecorder) IncDelivery(event string, status int) {
	p.deliveries.WithLabelValues(event, strconv.Itoa(status)).Inc()
}

func (p *PrometheusRecorder) ObserveHandler(handler string, d time.Duration, result ResultLabel) {
	p.handlerDuration.WithLabelValues(handler, string(result)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveStep(step string, d time.Duration, result ResultLabel) {
	p.stepDuration.WithLabelValues(step, string(result)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveDeployment(d time.Duration, result ResultLabel) {
	p.deploymentDuration.WithLabelValues(string(result)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncLockRejected() {
	p.lockRejected.Inc()
}

// HTTPHandler serves the metrics registered on reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
