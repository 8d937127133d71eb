// Package src ties the library together: the REST client, the shard
// table, the cache and the explicit event-handler registry.
package src

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/maren-dev/maren/src/cache"
	"github.com/maren-dev/maren/src/gateway"
	"github.com/maren-dev/maren/src/metrics"
	"github.com/maren-dev/maren/src/rest"
	"github.com/maren-dev/maren/src/structs"
)

// EventHandler is one business callback. Returned errors surface on
// the client's error channel instead of being printed and lost.
type EventHandler func(c *Client, g *gateway.Gateway, data json.RawMessage) error

type Client struct {
	Rest  *rest.Client
	Cache *cache.Manager

	token   string
	intents uint64
	opts    ClientOptions
	log     *slog.Logger
	gwm     *metrics.GatewayMetrics

	mu       sync.RWMutex
	started  bool
	shards   map[int]*gateway.Shard
	handlers map[structs.EventName]EventHandler
	info     *structs.GatewayBotInfo

	errs chan error
}

type ClientOptions struct {
	Intents uint64
	// ShardCount overrides the provider's recommendation when
	// positive.
	ShardCount int
	Activity   *structs.Activity
	Status     structs.StatusType
	Mobile     bool
	Cache      cache.Options
	Logger     *slog.Logger
	// Registerer receives the gateway collectors; defaults to the
	// global prometheus registry.
	Registerer prometheus.Registerer
	Rest       rest.ClientOptions
}

func NewClient(token string, opts ClientOptions) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Intents == 0 {
		opts.Intents = structs.IntentsDefault
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	opts.Rest.Logger = opts.Logger
	return &Client{
		Rest:     rest.NewClient(token, opts.Rest),
		Cache:    cache.NewManager(opts.Cache),
		token:    token,
		intents:  opts.Intents,
		opts:     opts,
		log:      opts.Logger,
		gwm:      metrics.NewGatewayMetrics(opts.Registerer),
		shards:   make(map[int]*gateway.Shard),
		handlers: make(map[structs.EventName]EventHandler),
		errs:     make(chan error, 64),
	}
}

// On registers the handler for one event name. The registry is built
// before Start and injected into every session; there is no ambient
// global listener table.
func (c *Client) On(name structs.EventName, handler EventHandler) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		panic("maren: On must be called before Start")
	}
	c.handlers[name] = handler
	return c
}

// Errors delivers handler failures and fatal session errors. Drain it
// to observe e.g. bad credentials; the channel is buffered so an
// ignored sink never blocks a session.
func (c *Client) Errors() <-chan error {
	return c.errs
}

// Start fetches the gateway connection info once, derives the shard
// count and launches every shard. It returns as soon as the launches
// are underway; block on ctx in the caller.
func (c *Client) Start(ctx context.Context) error {
	info, err := c.Rest.GatewayBot(ctx)
	if err != nil {
		return fmt.Errorf("fetch gateway info: %w", err)
	}

	count := c.opts.ShardCount
	if count <= 0 {
		count = info.Shards
	}
	if count <= 0 {
		count = 1
	}

	c.mu.Lock()
	c.started = true
	c.info = info
	c.mu.Unlock()

	c.log.Info("starting client",
		"recommended_shards", info.Shards,
		"shard_count", count,
		"session_starts_remaining", info.SessionStartLimit.Remaining)

	gwOpts := gateway.Options{
		Token:     c.token,
		Intents:   c.intents,
		URL:       info.URL,
		Router:    c.route,
		ErrorSink: c.errs,
		Logger:    c.log,
		Metrics:   c.gwm,
	}
	launch := gateway.LaunchOptions{
		Activity: c.opts.Activity,
		Status:   c.opts.Status,
		Mobile:   c.opts.Mobile,
	}

	for id := 0; id < count; id++ {
		shard := gateway.NewShard(id, count, gwOpts, func(s *gateway.Shard) {
			c.mu.Lock()
			c.shards[s.ID()] = s
			c.mu.Unlock()
		})
		shard.Launch(ctx, launch)
	}
	return nil
}

// route is invoked by a session per DISPATCH, already off the receive
// loop. Cache bookkeeping runs before the user handler so handlers
// observe the updated state.
func (c *Client) route(g *gateway.Gateway, ev *structs.RawEvent) {
	c.updateCache(ev)

	c.mu.RLock()
	handler, ok := c.handlers[ev.T]
	c.mu.RUnlock()
	if !ok {
		return
	}
	if err := handler(c, g, ev.D); err != nil {
		select {
		case c.errs <- fmt.Errorf("handler for %s: %w", ev.T, err):
		default:
			c.log.Error("error sink full, dropping handler error",
				"event_name", ev.T, "error", err)
		}
	}
}

func (c *Client) updateCache(ev *structs.RawEvent) {
	switch ev.T {
	case structs.EventNameReady:
		ready := new(structs.ReadyEvent)
		if err := json.Unmarshal(ev.D, ready); err == nil {
			c.Cache.SetUser(ready.User)
		}
	case structs.EventNameGuildCreate, structs.EventNameGuildUpdate:
		guild := new(structs.Guild)
		if err := json.Unmarshal(ev.D, guild); err == nil {
			c.Cache.SetGuild(guild)
		}
	case structs.EventNameGuildDelete:
		removed := new(structs.UnavailableGuild)
		if err := json.Unmarshal(ev.D, removed); err == nil {
			c.Cache.RemoveGuild(removed.ID)
		}
	case structs.EventNameChannelCreate, structs.EventNameChannelUpdate:
		ch := new(structs.Channel)
		if err := json.Unmarshal(ev.D, ch); err != nil {
			return
		}
		if ch.Type == structs.ChannelTypeDM {
			c.Cache.SetDMChannel(ch)
		} else {
			c.Cache.SetGuildChannel(ch)
		}
	case structs.EventNameChannelDelete:
		ch := new(structs.Channel)
		if err := json.Unmarshal(ev.D, ch); err == nil {
			c.Cache.RemoveChannel(ch.ID)
		}
	}
}

// Shard returns the supervisor for one shard id.
func (c *Client) Shard(id int) (*gateway.Shard, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.shards[id]
	return s, ok
}

// GatewayInfo is the `gateway/bot` response fetched by Start.
func (c *Client) GatewayInfo() *structs.GatewayBotInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// UpdatePresence fans the new presence out to every shard.
func (c *Client) UpdatePresence(ctx context.Context, activity *structs.Activity, status structs.StatusType) error {
	c.mu.RLock()
	shards := make([]*gateway.Shard, 0, len(c.shards))
	for _, s := range c.shards {
		shards = append(shards, s)
	}
	c.mu.RUnlock()

	for _, s := range shards {
		if err := s.UpdatePresence(ctx, activity, status); err != nil {
			return err
		}
	}
	return nil
}

// Close disconnects every shard.
func (c *Client) Close() {
	c.mu.RLock()
	shards := make([]*gateway.Shard, 0, len(c.shards))
	for _, s := range c.shards {
		shards = append(shards, s)
	}
	c.mu.RUnlock()

	for _, s := range shards {
		s.Close()
	}
	c.log.Info("client stopped")
}
