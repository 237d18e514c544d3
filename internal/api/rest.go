package api

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/hbomb79/Archivist/pkg/logger"
	"github.com/hbomb79/Archivist/pkg/worker"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080" validate:"required,hostname_port"`
	}

	workerSource interface {
		Snapshot() []worker.WorkerSnapshot
	}

	healthResponse struct {
		Status  string                  `json:"status"`
		Workers []worker.WorkerSnapshot `json:"workers"`
	}

	// The OpsGateway is a thin-wrapper around the Echo HTTP router, exposing
	// the liveness and (optionally) metrics endpoints of the service.
	OpsGateway struct {
		config  *RestConfig
		ec      *echo.Echo
		workers workerSource
	}
)

// NewOpsGateway constructs the Echo router. If metricsHandler is nil, no
// /metrics route is registered.
func NewOpsGateway(config *RestConfig, workers workerSource, metricsHandler http.Handler) *OpsGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true
	ec.Use(middleware.Recover())

	gateway := &OpsGateway{config: config, ec: ec, workers: workers}
	ec.GET("/healthz", gateway.health)
	if metricsHandler != nil {
		ec.GET("/metrics", echo.WrapHandler(metricsHandler))
	}

	return gateway
}

// health reports the service as unhealthy once every worker has exited.
func (gateway *OpsGateway) health(ec echo.Context) error {
	snapshot := gateway.workers.Snapshot()
	resp := healthResponse{Status: "ok", Workers: snapshot}

	alive := 0
	for _, w := range snapshot {
		if w.Status != worker.Finished.String() {
			alive++
		}
	}
	if alive == 0 {
		resp.Status = "unavailable"
		return ec.JSON(http.StatusServiceUnavailable, resp)
	}

	return ec.JSON(http.StatusOK, resp)
}

// ServeHTTP allows the gateway to be exercised directly in tests.
func (gateway *OpsGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gateway.ec.ServeHTTP(w, r)
}

func (gateway *OpsGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Emit(logger.INFO, "Ops endpoint listening on %s\n", gateway.config.HostAddr)
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
