package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var histogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

var (
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "matchup",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   histogramBuckets,
		},
		[]string{"method", "route", "status"},
	)
	relationshipActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matchup",
			Name:      "relationship_actions_total",
			Help:      "Like and dislike requests by outcome",
		},
		[]string{"action", "outcome"},
	)
	matchesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "matchup",
			Name:      "matches_total",
			Help:      "Mutual likes turned into matches",
		},
	)
)

// Middleware records request latency labelled by the matched route pattern.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		httpRequestDuration.
			WithLabelValues(c.Method(), c.Route().Path, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler serves the prometheus exposition format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

func RecordAction(action, outcome string) {
	relationshipActions.WithLabelValues(action, outcome).Inc()
}

func RecordMatch() {
	matchesCreated.Inc()
}
