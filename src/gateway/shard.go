package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maren-dev/maren/src/structs"
)

// Shard supervises one Gateway session within a horizontally
// partitioned deployment: launch, presence updates, application
// initiated reconnects and explicit close.
type Shard struct {
	id    int
	count int
	opts  Options
	log   *slog.Logger

	// register publishes the shard into the owning application's
	// shard table on every launch.
	register func(*Shard)

	mu           sync.Mutex
	gw           *Gateway
	launchOpts   LaunchOptions
	disconnected bool
}

type LaunchOptions struct {
	Activity *structs.Activity
	Status   structs.StatusType
	Mobile   bool
}

// NewShard builds a supervisor bound to (id, count). opts is the
// session template; ShardID and ShardCount are filled in here.
func NewShard(id int, count int, opts Options, register func(*Shard)) *Shard {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Shard{
		id:           id,
		count:        count,
		opts:         opts,
		log:          log,
		register:     register,
		disconnected: true,
	}
}

// Launch constructs a fresh Gateway session and starts connecting in
// the background. The returned shard is registered before the
// connection attempt begins.
func (s *Shard) Launch(ctx context.Context, opts LaunchOptions) *Shard {
	gwOpts := s.opts
	gwOpts.ShardID = s.id
	gwOpts.ShardCount = s.count
	gwOpts.Presence = structs.NewPresence(opts.Activity, opts.Status)
	gwOpts.Mobile = opts.Mobile

	s.mu.Lock()
	s.gw = NewGateway(gwOpts)
	s.launchOpts = opts
	s.disconnected = false
	gw := s.gw
	s.mu.Unlock()

	if s.register != nil {
		s.register(s)
	}

	go func() {
		if err := gw.Connect(ctx); err != nil {
			gw.emit(err)
		}
	}()
	return s
}

// UpdatePresence forwards to the live session; whether a disconnected
// session drops it is the session's concern.
func (s *Shard) UpdatePresence(ctx context.Context, activity *structs.Activity, status structs.StatusType) error {
	s.mu.Lock()
	gw := s.gw
	s.mu.Unlock()
	if gw == nil {
		return ErrNotConnected
	}
	return gw.UpdatePresence(ctx, activity, status)
}

// Reconnect closes the current session, waits, then relaunches with
// the previous launch options. This is the application-initiated
// reset, distinct from the session's own recovery path.
func (s *Shard) Reconnect(ctx context.Context, wait time.Duration) {
	s.mu.Lock()
	opts := s.launchOpts
	s.mu.Unlock()

	s.Close()
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	s.Launch(ctx, opts)
}

// Close disconnects the shard. Safe to call repeatedly.
func (s *Shard) Close() {
	s.mu.Lock()
	gw := s.gw
	s.disconnected = true
	s.mu.Unlock()
	if gw != nil {
		gw.Close(websocket.CloseNormalClosure)
	}
}

func (s *Shard) ID() int {
	return s.id
}

// Latency measures the HEARTBEAT round trip for this shard.
func (s *Shard) Latency() time.Duration {
	s.mu.Lock()
	gw := s.gw
	s.mu.Unlock()
	if gw == nil {
		return 0
	}
	return gw.Latency()
}

// Gateway exposes the supervised session, nil before the first
// launch.
func (s *Shard) Gateway() *Gateway {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gw
}

// Disconnected reports whether the supervisor considers the shard
// shut down (as opposed to a session-level connectivity gap).
func (s *Shard) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}
