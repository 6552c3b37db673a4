package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/imagen-apex/apex/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration prometheus.Histogram
}

func NewMetrics(reg *prometheus.Registry, manager *model.Manager) *Metrics {
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apex",
			Name:      "predict_requests_total",
			Help:      "Prediction requests by response status code.",
		}, []string{"code"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "apex",
			Name:      "predict_duration_seconds",
			Help:      "Prediction request latency.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}),
	}

	reg.MustRegister(m.requests, m.duration)
	if manager != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "apex",
			Name:      "model_loaded",
			Help:      "1 when the reconstruction model is ready.",
		}, func() float64 {
			if manager.Loaded() {
				return 1
			}
			return 0
		}))
	}

	return m
}

func (m *Metrics) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		m.requests.WithLabelValues(strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
