package hub

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const broadcastConcurrency = 32

// Presence keeps the registry in step with connection lifecycles and announces status changes
type Presence struct {
	// mu orders registry changes with the status events they produce, so every peer
	// sees a user's online/offline events in the order the registry applied them.
	mu       sync.Mutex
	registry *Registry
	log      *zap.SugaredLogger
}

// NewPresence creates a presence broadcaster over registry
func NewPresence(registry *Registry, log *zap.SugaredLogger) *Presence {
	return &Presence{registry: registry, log: log}
}

// Connected registers conn and tells every connected peer, conn included, that its user is online
func (p *Presence) Connected(ctx context.Context, conn Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if replaced := p.registry.Register(conn); replaced != nil {
		p.log.Infow("connection replaced", "user_id", conn.UserID(), "old_conn", replaced.ID(), "new_conn", conn.ID())
	}
	p.broadcast(ctx, UserStatus{UserID: conn.UserID(), Status: StatusOnline})
}

// Disconnected unregisters conn. The offline broadcast only happens when conn was still the
// user's current connection, so a stale close never hides a newer session.
func (p *Presence) Disconnected(ctx context.Context, conn Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.registry.Unregister(conn) {
		return false
	}
	p.broadcast(ctx, UserStatus{UserID: conn.UserID(), Status: StatusOffline})
	return true
}

// broadcast is fire-and-forget; per-peer failures are only logged.
// Callers hold p.mu. Conn.Send never blocks, so the hold is short.
func (p *Presence) broadcast(ctx context.Context, status UserStatus) {
	ev := Event{Name: EventUserStatus, Data: status}
	peers := p.registry.All()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(broadcastConcurrency)
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if err := peer.Send(ev); err != nil {
				p.log.Debugw("presence push failed", "peer", peer.UserID(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
