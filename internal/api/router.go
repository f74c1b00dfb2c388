package api

import (
	"strconv"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NamanBalaji/hlsdm/internal/logger"
	"github.com/NamanBalaji/hlsdm/internal/metrics"
)

// RegisterRoutes mounts the job API and the metrics endpoint on e.
func RegisterRoutes(e *echo.Echo, eng Engine, gatherer prometheus.Gatherer) {
	e.Use(middleware.Recover())

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			metrics.HTTPRequestsTotal.WithLabelValues(v.Method, routeLabel(c), strconv.Itoa(v.Status)).Inc()
			logger.Infof("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	jobs := &JobsController{Engine: eng}

	g := e.Group("/api")
	g.GET("/stats", jobs.Stats)
	g.POST("/jobs", jobs.Submit)
	g.GET("/jobs", jobs.List)
	g.GET("/jobs/:id", jobs.Get)
	g.POST("/jobs/:id/cancel", jobs.Cancel)
	g.DELETE("/jobs/:id", jobs.Delete)
	g.GET("/jobs/:id/events", jobs.Events)
	g.GET("/jobs/:id/ws", jobs.Watch)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// routeLabel is the route pattern of the matched handler, e.g. /api/jobs/:id.
func routeLabel(c *echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}
