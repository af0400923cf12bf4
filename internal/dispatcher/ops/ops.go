// Package ops exposes the dispatcher's health, metrics, and admin
// surface over HTTP, separate from the raw-socket API ingress port —
// it never parses or answers a `/player/...`-style lookup route.
// Built on an echo server with middleware.Logger/Recover/CORS/
// RequestID, a validator.v10 CustomValidator, and a JWT-guarded admin
// group.
package ops

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	authmw "github.com/honux/lolbuff/internal/api/middleware/auth"
	"github.com/honux/lolbuff/internal/dispatcher/registry"
	"github.com/honux/lolbuff/internal/dispatcher/workerconn"
	dbmongo "github.com/honux/lolbuff/internal/db/mongodb"
	dbredis "github.com/honux/lolbuff/internal/db/redis"
)

// CustomValidator adapts go-playground/validator to echo's Validator
// interface.
type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// Server is the ops HTTP surface.
type Server struct {
	echo    *echo.Echo
	tasks   *registry.TaskRegistry
	workers *registry.WorkerRegistry
	hub     *Hub
	log     *zap.SugaredLogger

	// mongoClient/redisClient back the optional /health/components route;
	// set via WithComponents. Both nil until then.
	mongoClient *dbmongo.CircuitBreakerClient
	redisClient *dbredis.CircuitBreakerClient
}

// New builds the ops server, wiring health/metrics/status routes and a
// JWT-guarded admin group mirroring the API ingress's worker-admin
// routes (restart/kill), so the same action is reachable both from the
// raw socket protocol and from an authenticated HTTP surface.
func New(tasks *registry.TaskRegistry, workers *registry.WorkerRegistry, jwtSecret string, log *zap.SugaredLogger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.Validator = &CustomValidator{validator: validator.New()}

	s := &Server{echo: e, tasks: tasks, workers: workers, hub: NewHub(log), log: log}

	e.GET("/health", s.health)
	e.GET("/metrics", s.metrics)
	e.GET("/ops/status", s.status)
	e.GET("/ops/events/ws", s.hub.ServeWS)

	admin := e.Group("/ops/worker", authmw.JWTMiddleware(jwtSecret))
	admin.POST("/:idx/test", s.workerTest)
	admin.POST("/:idx/restart", s.workerRestart)
	admin.POST("/:idx/kill", s.workerKill)

	return s
}

// Handler exposes the underlying echo instance for net/http.Serve.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// OnTaskOutcome is wired as registry.TaskRegistry.OnOutcome so every
// task completion/timeout/cancellation is broadcast to connected ops
// websocket clients live.
func (s *Server) OnTaskOutcome(taskID uint32, dest, op, outcome string) {
	s.hub.Broadcast(Event{Kind: "task", TaskID: taskID, Dest: dest, Op: op, Outcome: outcome})
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

type metricsResponse struct {
	WorkerCount int `json:"workerCount"`
	OpenTasks   int `json:"openTasks"`
}

func (s *Server) metrics(c echo.Context) error {
	return c.JSON(http.StatusOK, metricsResponse{
		WorkerCount: s.workers.Len(),
		OpenTasks:   s.tasks.Len(),
	})
}

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, metricsResponse{
		WorkerCount: s.workers.Len(),
		OpenTasks:   s.tasks.Len(),
	})
}

func (s *Server) workerIndex(c echo.Context) (int, bool) {
	idx, ok := parsePositiveInt(c.Param("idx"))
	return idx, ok
}

func (s *Server) workerTest(c echo.Context) error {
	idx, ok := s.workerIndex(c)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid worker index")
	}
	w, ok := s.workers.GetAt(idx)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Worker not found.")
	}
	frame := workerconn.BuildControlFrame(workerconn.FrameNumeric, 0)
	if err := w.Send(frame); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Worker not found.")
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) workerRestart(c echo.Context) error {
	return s.sendControl(c, workerconn.FrameForceReconnect, false)
}

func (s *Server) workerKill(c echo.Context) error {
	return s.sendControl(c, workerconn.FrameKill, true)
}

func (s *Server) sendControl(c echo.Context, frameType byte, unsubscribe bool) error {
	idx, ok := s.workerIndex(c)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid worker index")
	}
	w, ok := s.workers.GetAt(idx)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Worker not found.")
	}
	if err := w.Send(workerconn.BuildControlFrame(frameType, 0)); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Worker not found.")
	}
	if unsubscribe {
		s.workers.UnsubscribeAt(idx)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func parsePositiveInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
