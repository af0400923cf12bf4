package ops

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	dbmongo "github.com/honux/lolbuff/internal/db/mongodb"
	dbredis "github.com/honux/lolbuff/internal/db/redis"
)

// componentStatus is one dependency's health, as reported by
// /health/components.
type componentStatus struct {
	Status       string `json:"status"`
	ResponseTime int64  `json:"responseTimeMs"`
	Error        string `json:"error,omitempty"`
}

type componentsResponse struct {
	Status     string                      `json:"status"`
	Timestamp  string                      `json:"timestamp"`
	Components map[string]componentStatus `json:"components"`
}

// WithComponents attaches the audit log's Mongo client and the presence
// mirror's Redis client to the ops server's health surface, registering
// /health/components, and returns s for chaining. Both clients are
// optional: a nil client reports its component as "disabled" rather
// than pinging, since mongodb/redis are best-effort side channels, not
// dispatch-critical dependencies.
func (s *Server) WithComponents(mongoClient *dbmongo.CircuitBreakerClient, redisClient *dbredis.CircuitBreakerClient) *Server {
	s.mongoClient = mongoClient
	s.redisClient = redisClient
	s.echo.GET("/health/components", s.healthComponents)
	return s
}

func (s *Server) healthComponents(c echo.Context) error {
	resp := componentsResponse{Status: "healthy", Timestamp: time.Now().Format(time.RFC3339), Components: make(map[string]componentStatus)}

	var wg sync.WaitGroup
	var mu sync.Mutex
	record := func(name string, status componentStatus) {
		mu.Lock()
		defer mu.Unlock()
		resp.Components[name] = status
		if status.Status != "healthy" && status.Status != "disabled" {
			resp.Status = "degraded"
		}
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		record("mongodb", s.pingMongo())
	}()
	go func() {
		defer wg.Done()
		record("redis", s.pingRedis())
	}()
	wg.Wait()

	statusCode := http.StatusOK
	if resp.Status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}
	return c.JSON(statusCode, resp)
}

func (s *Server) pingMongo() componentStatus {
	if s.mongoClient == nil {
		return componentStatus{Status: "disabled"}
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.mongoClient.Ping(ctx, readpref.Primary())
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return componentStatus{Status: "unhealthy", ResponseTime: elapsed, Error: err.Error()}
	}
	return componentStatus{Status: "healthy", ResponseTime: elapsed}
}

// pingRedis issues a no-op SetWithTTL through the breaker-guarded
// client, since CircuitBreakerClient doesn't expose its underlying
// *redis.Client for a direct PING.
func (s *Server) pingRedis() componentStatus {
	if s.redisClient == nil {
		return componentStatus{Status: "disabled"}
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.redisClient.SetWithTTL(ctx, "lolbuff:health:ping", "1", time.Second)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return componentStatus{Status: "unhealthy", ResponseTime: elapsed, Error: err.Error()}
	}
	return componentStatus{Status: "healthy", ResponseTime: elapsed}
}
