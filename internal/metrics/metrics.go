// Package metrics holds the Prometheus collectors of the portal.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests processed, by route and status",
	}, []string{"method", "route", "status"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	otpDispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_dispatch_total",
		Help: "OTP dispatch attempts by purpose and result",
	}, []string{"purpose", "result"}) // result: sent|not_registered|already_registered|rate_limited|failed

	otpVerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_verify_total",
		Help: "OTP verification attempts by purpose and result",
	}, []string{"purpose", "result"}) // result: verified|invalid|malformed|not_requested|failed

	provisionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profile_provision_total",
		Help: "Profile provisioning outcomes",
	}, []string{"result"}) // result: created|existing|duplicate|failed

	gateDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_decisions_total",
		Help: "Protected route admission decisions",
	}, []string{"result"}) // result: admitted|refreshed|redirected
)

// Register adds every collector to reg. Collectors already registered are ignored so
// several servers can share the default registry.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		httpRequestsTotal, httpRequestDuration, otpDispatchTotal, otpVerifyTotal, provisionTotal, gateDecisionsTotal,
	} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the default gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HTTP instruments Fiber requests. The route label is the registered pattern, not the
// raw path, to keep cardinality bounded.
func HTTP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else if err != nil && status < http.StatusBadRequest {
			status = http.StatusInternalServerError
		}
		route := c.Route().Path
		method := c.Method()
		httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		return err
	}
}

// OTPDispatch records the outcome of a code request.
func OTPDispatch(purpose, result string) {
	otpDispatchTotal.WithLabelValues(purpose, result).Inc()
}

// OTPVerify records the outcome of a code verification.
func OTPVerify(purpose, result string) {
	otpVerifyTotal.WithLabelValues(purpose, result).Inc()
}

// Provision records a provisioning outcome.
func Provision(result string) {
	provisionTotal.WithLabelValues(result).Inc()
}

// GateDecision records a route gate decision.
func GateDecision(result string) {
	gateDecisionsTotal.WithLabelValues(result).Inc()
}
