package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConn struct {
	id     uuid.UUID
	userID int64

	mu     sync.Mutex
	events []Event
	err    error
}

func newFakeConn(userID int64) *fakeConn {
	return &fakeConn{id: uuid.New(), userID: userID}
}

func (c *fakeConn) ID() uuid.UUID { return c.id }
func (c *fakeConn) UserID() int64 { return c.userID }

func (c *fakeConn) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) statuses() []UserStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []UserStatus
	for _, ev := range c.events {
		if s, ok := ev.Data.(UserStatus); ok && ev.Name == EventUserStatus {
			out = append(out, s)
		}
	}
	return out
}

func TestRegistry_lastConnectWins(t *testing.T) {
	r := NewRegistry()
	old := newFakeConn(1)
	newer := newFakeConn(1)

	assert.Nil(t, r.Register(old))
	replaced := r.Register(newer)
	require.NotNil(t, replaced)
	assert.Equal(t, old.ID(), replaced.ID())

	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, newer.ID(), got.ID())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_staleUnregisterKeepsNewerMapping(t *testing.T) {
	r := NewRegistry()
	old := newFakeConn(1)
	newer := newFakeConn(1)
	r.Register(old)
	r.Register(newer)

	assert.False(t, r.Unregister(old))
	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, newer.ID(), got.ID())

	assert.True(t, r.Unregister(newer))
	_, ok = r.Lookup(1)
	assert.False(t, ok)

	// Idempotent
	assert.False(t, r.Unregister(newer))
}

func TestRegistry_reRegisterSameHandle(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn(5)
	r.Register(c)
	assert.Nil(t, r.Register(c))
}

func TestRegistry_snapshot(t *testing.T) {
	r := NewRegistry()
	a, b := newFakeConn(1), newFakeConn(2)
	r.Register(a)
	r.Register(b)

	snap := r.Snapshot([]int64{1, 2, 3})
	assert.Len(t, snap, 2)
	assert.Equal(t, a.ID(), snap[1].ID())
	assert.Equal(t, b.ID(), snap[2].ID())
	_, ok := snap[3]
	assert.False(t, ok)

	st, ok := r.Status(1)
	require.True(t, ok)
	assert.False(t, st.ConnectedAt.IsZero())
}

func TestRegistry_concurrentLifecycles(t *testing.T) {
	r := NewRegistry()
	const users = 50
	const rounds = 20

	var wg sync.WaitGroup
	for u := int64(1); u <= users; u++ {
		for i := 0; i < rounds; i++ {
			wg.Add(1)
			go func(userID int64) {
				defer wg.Done()
				c := newFakeConn(userID)
				r.Register(c)
				_, _ = r.Lookup(userID)
				_ = r.Snapshot([]int64{userID, userID + 1})
				r.Unregister(c)
			}(u)
		}
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len(), "every connection unregistered itself")
}

func TestRegistry_concurrentConnectsLeaveOneMapping(t *testing.T) {
	r := NewRegistry()
	conns := make([]*fakeConn, 100)
	for i := range conns {
		conns[i] = newFakeConn(9)
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			r.Register(c)
		}(c)
	}
	wg.Wait()

	got, ok := r.Lookup(9)
	require.True(t, ok)
	assert.Equal(t, 1, r.Len())

	// Closing every other handle leaves the winner in place
	for _, c := range conns {
		if c.ID() != got.ID() {
			assert.False(t, r.Unregister(c))
		}
	}
	still, ok := r.Lookup(9)
	require.True(t, ok)
	assert.Equal(t, got.ID(), still.ID())
}

func TestPresence_broadcasts(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	p := NewPresence(r, zap.NewNop().Sugar())

	alice := newFakeConn(1)
	bob := newFakeConn(2)

	p.Connected(ctx, alice)
	assert.Equal(t, []UserStatus{{UserID: 1, Status: StatusOnline}}, alice.statuses())

	p.Connected(ctx, bob)
	assert.Contains(t, alice.statuses(), UserStatus{UserID: 2, Status: StatusOnline})
	assert.Contains(t, bob.statuses(), UserStatus{UserID: 2, Status: StatusOnline})

	assert.True(t, p.Disconnected(ctx, bob))
	assert.Contains(t, alice.statuses(), UserStatus{UserID: 2, Status: StatusOffline})
}

func TestPresence_staleDisconnectIsSilent(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	p := NewPresence(r, zap.NewNop().Sugar())

	watcher := newFakeConn(1)
	old := newFakeConn(2)
	newer := newFakeConn(2)
	p.Connected(ctx, watcher)
	p.Connected(ctx, old)
	p.Connected(ctx, newer)

	assert.False(t, p.Disconnected(ctx, old))
	assert.NotContains(t, watcher.statuses(), UserStatus{UserID: 2, Status: StatusOffline})

	_, ok := r.Lookup(2)
	assert.True(t, ok)
}

func TestPresence_failingPeerDoesNotStopBroadcast(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	p := NewPresence(r, zap.NewNop().Sugar())

	broken := newFakeConn(1)
	broken.err = ErrSendBufferFull
	healthy := newFakeConn(2)
	p.Connected(ctx, broken)
	p.Connected(ctx, healthy)

	newcomer := newFakeConn(3)
	p.Connected(ctx, newcomer)
	assert.Contains(t, healthy.statuses(), UserStatus{UserID: 3, Status: StatusOnline})
}

// gatedConn holds its first offline event until release is closed
type gatedConn struct {
	*fakeConn
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (c *gatedConn) Send(ev Event) error {
	if s, ok := ev.Data.(UserStatus); ok && s.Status == StatusOffline {
		c.once.Do(func() {
			close(c.entered)
			<-c.release
		})
	}
	return c.fakeConn.Send(ev)
}

func TestPresence_reconnectDuringOfflineBroadcastEndsOnline(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	p := NewPresence(r, zap.NewNop().Sugar())

	watcher := &gatedConn{
		fakeConn: newFakeConn(1),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	old := newFakeConn(2)
	newer := newFakeConn(2)
	p.Connected(ctx, watcher)
	p.Connected(ctx, old)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.True(t, p.Disconnected(ctx, old))
	}()
	<-watcher.entered
	go func() {
		defer wg.Done()
		p.Connected(ctx, newer)
	}()

	// give the reconnect a chance to overtake the stalled offline event
	time.Sleep(20 * time.Millisecond)
	close(watcher.release)
	wg.Wait()

	got, ok := r.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, newer.ID(), got.ID())

	var seen []string
	for _, s := range watcher.statuses() {
		if s.UserID == 2 {
			seen = append(seen, s.Status)
		}
	}
	assert.Equal(t, []string{StatusOnline, StatusOffline, StatusOnline}, seen)
}
