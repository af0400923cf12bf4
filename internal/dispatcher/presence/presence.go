// Package presence mirrors the live Worker Registry roster into Redis so
// other processes (an ops dashboard, a second dispatcher instance doing
// capacity planning) can observe worker count and churn without holding
// a connection into this process. It is an optional, best-effort layer:
// the in-process Worker Registry is always the sole source of truth for
// dispatch decisions, so the dispatcher's core routing behavior never
// depends on Redis being reachable.
package presence

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	dbredis "github.com/honux/lolbuff/internal/db/redis"
)

const (
	rosterKeyPrefix = "lolbuff:workers:roster:"
	channelName     = "lolbuff:workers:events"
	rosterTTL       = time.Hour
)

// Mirror publishes worker attach/detach events and maintains one roster
// key per worker in Redis, built on the CircuitBreakerClient so a flaky Redis
// instance degrades to silent no-ops rather than blocking dispatch.
type Mirror struct {
	breaker *dbredis.CircuitBreakerClient
	raw     *goredis.Client
	log     *zap.SugaredLogger
}

// NewMirror wraps an already-connected client pair: breaker guards the
// roster key writes, raw is used directly for pub/sub (Publish is
// already fire-and-forget on the wire, so it doesn't need breaker
// accounting of its own).
func NewMirror(breaker *dbredis.CircuitBreakerClient, raw *goredis.Client, log *zap.SugaredLogger) *Mirror {
	return &Mirror{breaker: breaker, raw: raw, log: log}
}

// Attached records worker index idx as present and publishes an
// "attached" event.
func (m *Mirror) Attached(ctx context.Context, idx int, remoteAddr string) {
	if m == nil || m.breaker == nil {
		return
	}
	key := rosterKeyPrefix + fmt.Sprint(idx)
	if err := m.breaker.SetWithTTL(ctx, key, remoteAddr, rosterTTL); err != nil {
		m.logDegraded("attach", err)
		return
	}
	m.publish(ctx, "attached", idx)
}

// Detached removes worker index idx's roster entry and publishes a
// "detached" event.
func (m *Mirror) Detached(ctx context.Context, idx int) {
	if m == nil || m.breaker == nil {
		return
	}
	key := rosterKeyPrefix + fmt.Sprint(idx)
	if err := m.breaker.DeleteRosterEntry(ctx, key); err != nil {
		m.logDegraded("detach", err)
	}
	m.publish(ctx, "detached", idx)
}

func (m *Mirror) publish(ctx context.Context, kind string, idx int) {
	if m.raw == nil {
		return
	}
	msg := fmt.Sprintf(`{"event":%q,"workerIndex":%d}`, kind, idx)
	if err := dbredis.Publish(ctx, m.raw, channelName, msg); err != nil {
		m.logDegraded("publish-"+kind, err)
	}
}

func (m *Mirror) logDegraded(op string, err error) {
	if m.log != nil {
		m.log.Debugw("presence mirror degraded, continuing without it", "op", op, "error", err)
	}
}
