package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sasha-s/go-csync"
	"golang.org/x/time/rate"

	"github.com/maren-dev/maren/src/metrics"
	"github.com/maren-dev/maren/src/structs"
)

const Version = 10

type Status = string

const (
	StatusDisconnected Status = "DISCONNECTED"
	StatusConnecting   Status = "CONNECTING"
	StatusHandshaking  Status = "HANDSHAKING"
	StatusActive       Status = "ACTIVE"
)

// EventRouter receives every DISPATCH. The session never awaits it: a
// slow consumer must not block the receive loop.
type EventRouter func(g *Gateway, ev *structs.RawEvent)

type Options struct {
	Token      string
	Intents    uint64
	ShardID    int
	ShardCount int
	// URL is the websocket base from `GET gateway/bot`, without query
	// parameters.
	URL      string
	Router   EventRouter
	Presence *structs.Presence
	Mobile   bool
	// ErrorSink receives fatal session errors and panics recovered
	// from event handlers. Sends never block; overflow is logged and
	// dropped.
	ErrorSink chan<- error
	Logger    *slog.Logger
	Metrics   *metrics.GatewayMetrics
	Dialer    *websocket.Dialer
}

// Gateway owns one streaming connection: the receive loop, the
// heartbeat loop and the liveness watchdog, mediated through the
// opcode state machine. Only the receive loop writes sequence and
// session id; only the heartbeat loop writes the last-sent timestamp.
type Gateway struct {
	token      string
	intents    uint64
	shardID    int
	shardCount int
	wsURL      string
	router     EventRouter
	presence   *structs.Presence
	mobile     bool
	errs       chan<- error
	log        *slog.Logger
	metrics    *metrics.GatewayMetrics
	dialer     *websocket.Dialer

	rwlock            sync.RWMutex
	conn              *websocket.Conn
	status            Status
	sessionID         string
	resumeGatewayURL  string
	interval          time.Duration
	lastHeartbeatSent time.Time
	lastAck           time.Time

	sendMu      csync.Mutex
	sendLimiter *rate.Limiter

	stream    zstream
	sequence  atomic.Uint64
	hasSeq    atomic.Bool
	notClosed atomic.Bool
	latency   atomic.Int64 // nanoseconds
}

func NewGateway(opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.ShardCount <= 0 {
		opts.ShardCount = 1
	}
	if opts.URL == "" {
		opts.URL = "wss://gateway.discord.gg"
	}
	return &Gateway{
		token:       opts.Token,
		intents:     opts.Intents,
		shardID:     opts.ShardID,
		shardCount:  opts.ShardCount,
		wsURL:       opts.URL,
		router:      opts.Router,
		presence:    opts.Presence,
		mobile:      opts.Mobile,
		errs:        opts.ErrorSink,
		log:         opts.Logger.With("shard_id", opts.ShardID),
		metrics:     opts.Metrics,
		dialer:      opts.Dialer,
		status:      StatusDisconnected,
		sendLimiter: newSendLimiter(),
	}
}

// newSendLimiter throttles outbound gateway commands to the
// documented 120 per minute, with a small burst held back so the
// heartbeat always has headroom.
func newSendLimiter() *rate.Limiter {
	const perMinute = 120
	const burst = 5
	return rate.NewLimiter(rate.Every(time.Minute/(perMinute-burst)), burst)
}

// Connect dials the gateway, resets the decompression context, sends
// the identify-or-resume handshake and starts the receive loop. The
// heartbeat loop and the watchdog start once HELLO arrives.
func (g *Gateway) Connect(ctx context.Context) error {
	g.rwlock.Lock()
	if g.conn != nil {
		g.rwlock.Unlock()
		return ErrAlreadyOpen
	}
	g.status = StatusConnecting
	dialURL := g.wsURL
	if g.resumeGatewayURL != "" && g.canResume() {
		dialURL = g.resumeGatewayURL
	}
	g.rwlock.Unlock()

	g.log.Info("connecting to gateway", "url", dialURL)

	conn, _, err := g.dialer.DialContext(ctx,
		fmt.Sprintf("%s/?v=%d&encoding=json&compress=zlib-stream", dialURL, Version), nil)
	if err != nil {
		g.rwlock.Lock()
		g.status = StatusDisconnected
		g.rwlock.Unlock()
		return fmt.Errorf("dial gateway: %w", err)
	}

	g.rwlock.Lock()
	g.conn = conn
	g.stream.Reset()
	g.status = StatusHandshaking
	handshake, resuming := g.handshakeEvent()
	g.rwlock.Unlock()
	g.notClosed.Store(true)

	if err := g.send(ctx, handshake); err != nil {
		g.Close(websocket.CloseNormalClosure)
		return fmt.Errorf("send handshake: %w", err)
	}
	if g.metrics != nil {
		kind := "identify"
		if resuming {
			kind = "resume"
		}
		g.metrics.Reconnects.WithLabelValues(g.shardLabel(), kind).Inc()
	}

	go g.listen(ctx, conn)
	return nil
}

// handshakeEvent picks RESUME when a replayable session is stored and
// IDENTIFY otherwise. Callers hold rwlock.
func (g *Gateway) handshakeEvent() (structs.Event, bool) {
	if g.canResume() {
		return structs.Event{
			Op: structs.OpcodeResume,
			D: structs.ResumeEvent{
				Token:     g.token,
				SessionID: g.sessionID,
				Seq:       g.sequence.Load(),
			},
		}, true
	}

	browser := "Maren"
	if g.mobile {
		browser = "Discord iOS"
	}
	return structs.Event{
		Op: structs.OpcodeIdentify,
		D: structs.IdentifyEvent{
			Token:   g.token,
			Intents: g.intents,
			Properties: structs.IdentifyEventProperties{
				Os:      runtime.GOOS,
				Browser: browser,
				Device:  "Maren Go Library",
			},
			Compress: true,
			Shard:    [2]int{g.shardID, g.shardCount},
			Presence: g.presence,
		},
	}, false
}

func (g *Gateway) canResume() bool {
	return g.sessionID != "" && g.hasSeq.Load()
}

func (g *Gateway) listen(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messageType, message, err := conn.ReadMessage()
		if err != nil {
			g.rwlock.RLock()
			same := g.conn == conn
			g.rwlock.RUnlock()
			if !same || !g.notClosed.Load() {
				return
			}
			code := CloseCodeUnknownError
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code = closeErr.Code
			}
			g.log.Warn("gateway connection lost", "close_code", code, "error", err)
			g.handleClose(ctx, code)
			return
		}

		ev, err := g.stream.Push(messageType, message)
		if err != nil {
			if g.metrics != nil {
				g.metrics.FramesDropped.WithLabelValues(g.shardLabel()).Inc()
			}
			g.log.Warn("dropping undecodable frame", "error", err)
			continue
		}
		if ev == nil {
			continue
		}
		g.handleEvent(ctx, ev)
	}
}

// handleEvent is the opcode dispatcher, invoked once per fully
// decoded message by the receive loop.
func (g *Gateway) handleEvent(ctx context.Context, ev *structs.RawEvent) {
	switch ev.Op {
	case structs.OpcodeDispatch:
		g.advanceSequence(ev.S)
		g.handleDispatch(ev)

	case structs.OpcodeHeartbeatAck:
		now := time.Now()
		g.rwlock.Lock()
		g.lastAck = now
		sent := g.lastHeartbeatSent
		g.rwlock.Unlock()
		if sent.IsZero() {
			// An ack before any heartbeat went out carries no usable
			// timing.
			return
		}
		rtt := now.Sub(sent)
		g.latency.Store(int64(rtt))
		if g.metrics != nil {
			g.metrics.HeartbeatLatency.WithLabelValues(g.shardLabel()).Set(rtt.Seconds())
		}

	case structs.OpcodeHello:
		hello := new(structs.HelloEvent)
		if err := json.Unmarshal(ev.D, hello); err != nil {
			g.log.Error("undecodable HELLO", "error", err)
			return
		}
		interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
		g.rwlock.Lock()
		g.interval = interval
		g.lastAck = time.Now()
		conn := g.conn
		g.rwlock.Unlock()
		g.log.Debug("received HELLO", "heartbeat_interval", interval)
		go g.heartbeating(ctx, conn, interval)
		go g.watchdog(ctx, conn, interval)

	case structs.OpcodeInvalidSession:
		// The server discarded our session state: restart with a
		// brand-new identify.
		g.log.Warn("invalid session, reconnecting with a fresh identify")
		g.Close(CloseCodeUnknownError)
		g.clearSession()
		g.reconnect(ctx)

	case structs.OpcodeReconnect:
		// Close cleanly, keep session id and sequence so the next
		// handshake resumes.
		g.log.Info("server requested reconnect, resuming")
		g.Close(websocket.CloseServiceRestart)
		g.reconnect(ctx)

	default:
		g.log.Debug("ignoring opcode", "op_code", ev.Op)
	}
}

func (g *Gateway) handleDispatch(ev *structs.RawEvent) {
	g.rwlock.Lock()
	g.status = StatusActive
	if ev.T == structs.EventNameReady {
		ready := new(structs.ReadyEvent)
		if err := json.Unmarshal(ev.D, ready); err == nil {
			g.sessionID = ready.SessionID
			g.resumeGatewayURL = ready.ResumeGatewayURL
			g.log.Info("gateway is ready", "session_id", ready.SessionID)
		}
	}
	g.rwlock.Unlock()

	if g.metrics != nil {
		g.metrics.EventsDispatched.WithLabelValues(g.shardLabel(), ev.T).Inc()
	}

	if g.router == nil {
		return
	}
	// Fire and forget: handler panics go to the error sink, never
	// back into the receive loop.
	go func(ev *structs.RawEvent) {
		defer func() {
			if r := recover(); r != nil {
				g.emit(fmt.Errorf("event handler for %s panicked: %v", ev.T, r))
			}
		}()
		g.router(g, ev)
	}(ev)
}

// advanceSequence never regresses the high-water mark.
func (g *Gateway) advanceSequence(s uint64) {
	for {
		current := g.sequence.Load()
		if g.hasSeq.Load() && s <= current {
			return
		}
		if g.sequence.CompareAndSwap(current, s) {
			g.hasSeq.Store(true)
			return
		}
	}
}

// handleClose drives the recovery path after a disconnect: resume on
// 4009, surface fatal codes, reconnect fresh otherwise.
func (g *Gateway) handleClose(ctx context.Context, code CloseEventCode) {
	g.Close(code)

	switch classifyClose(code) {
	case CloseActionResume:
		g.log.Info("session timed out, resuming", "close_code", code)
		g.reconnect(ctx)
	case CloseActionFatal:
		g.emit(closeError(code, g.shardID))
	default:
		g.log.Info("disconnected without a fatal code, reconnecting", "close_code", code)
		g.clearSession()
		g.reconnect(ctx)
	}
}

// reconnect redials with a short growing backoff so one failed dial
// during a transient outage does not strand the session. The final
// failure surfaces on the error sink.
func (g *Gateway) reconnect(ctx context.Context) {
	const attempts = 3
	for attempt := 1; ; attempt++ {
		err := g.Connect(ctx)
		if err == nil || errors.Is(err, ErrAlreadyOpen) {
			return
		}
		if attempt == attempts {
			g.emit(fmt.Errorf("reconnect failed after %d attempts: %w", attempts, err))
			return
		}
		wait := reconnectWait(attempt)
		g.log.Warn("reconnect attempt failed, retrying",
			"attempt", attempt,
			"wait", wait,
			"error", err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func reconnectWait(attempt int) time.Duration {
	return time.Duration(attempt) * time.Second
}

// heartbeating sends HEARTBEAT every interval. The first beat fires
// 2000ms early per the provider's jitter-avoidance guidance.
func (g *Gateway) heartbeating(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	first, recurring := heartbeatSchedule(interval)

	timer := time.NewTimer(first)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if !g.sameConn(conn) || !g.notClosed.Load() {
		return
	}
	g.sendHeartbeat(ctx)

	ticker := time.NewTicker(recurring)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !g.sameConn(conn) || !g.notClosed.Load() {
				return
			}
			g.sendHeartbeat(ctx)
		}
	}
}

func heartbeatSchedule(interval time.Duration) (first, recurring time.Duration) {
	first = interval - 2*time.Second
	if first <= 0 {
		first = interval / 2
	}
	return first, interval
}

func (g *Gateway) sendHeartbeat(ctx context.Context) {
	var seq *uint64
	if g.hasSeq.Load() {
		v := g.sequence.Load()
		seq = &v
	}
	if err := g.send(ctx, heartbeatEvent{Op: structs.OpcodeHeartbeat, D: seq}); err != nil {
		g.log.Warn("failed to send heartbeat", "error", err)
		return
	}
	g.rwlock.Lock()
	g.lastHeartbeatSent = time.Now()
	g.rwlock.Unlock()
}

// heartbeatEvent keeps `d` explicit so a missing sequence serializes
// as null rather than being omitted.
type heartbeatEvent struct {
	Op structs.EventOpcode `json:"op"`
	D  *uint64             `json:"d"`
}

// watchdog force-closes the connection when a heartbeat goes
// unacknowledged for too long. Both timings derive from the
// negotiated interval instead of fixed constants, so slow connections
// on non-default intervals are tolerated proportionally.
func (g *Gateway) watchdog(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	check, stale := watchdogSchedule(interval)

	ticker := time.NewTicker(check)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !g.sameConn(conn) || !g.notClosed.Load() {
				return
			}
			g.rwlock.RLock()
			sent := g.lastHeartbeatSent
			acked := g.lastAck
			g.rwlock.RUnlock()
			if sent.IsZero() || !acked.Before(sent) {
				continue
			}
			if time.Since(sent) > stale {
				g.log.Warn("heartbeat ack overdue, closing stale connection",
					"since_last_send", time.Since(sent))
				g.handleClose(ctx, CloseCodeUnknownError)
				return
			}
		}
	}
}

func watchdogSchedule(interval time.Duration) (check, stale time.Duration) {
	return interval / 2, 2 * interval
}

// UpdatePresence forwards a presence payload to the live connection.
// A disconnected session drops it quietly; the next identify carries
// presence anyway.
func (g *Gateway) UpdatePresence(ctx context.Context, activity *structs.Activity, status structs.StatusType) error {
	if !g.notClosed.Load() {
		g.log.Debug("dropping presence update on disconnected session")
		return nil
	}
	g.log.Debug("updating presence")
	return g.send(ctx, structs.Event{
		Op: structs.OpcodePresenceUpdate,
		D:  structs.NewPresence(activity, status),
	})
}

// send serializes one outbound message. The limiter paces gateway
// commands; the context-aware lock keeps concurrent writers off the
// socket.
func (g *Gateway) send(ctx context.Context, payload any) error {
	if err := g.sendLimiter.Wait(ctx); err != nil {
		return err
	}
	if err := g.sendMu.CLock(ctx); err != nil {
		return err
	}
	defer g.sendMu.Unlock()

	g.rwlock.RLock()
	conn := g.conn
	g.rwlock.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal gateway event: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears the connection down. Idempotent and safe from any
// state; the heartbeat loop and watchdog observe the cleared flag on
// their next wake-up.
func (g *Gateway) Close(code CloseEventCode) {
	g.notClosed.Store(false)
	g.rwlock.Lock()
	defer g.rwlock.Unlock()
	g.status = StatusDisconnected
	if g.conn == nil {
		return
	}
	_ = g.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
	_ = g.conn.Close()
	g.conn = nil
	g.stream.Reset()
}

func (g *Gateway) clearSession() {
	g.rwlock.Lock()
	g.sessionID = ""
	g.resumeGatewayURL = ""
	g.rwlock.Unlock()
	g.hasSeq.Store(false)
	g.sequence.Store(0)
}

func (g *Gateway) sameConn(conn *websocket.Conn) bool {
	g.rwlock.RLock()
	defer g.rwlock.RUnlock()
	return g.conn == conn
}

func (g *Gateway) emit(err error) {
	if g.errs == nil {
		g.log.Error("session error", "error", err)
		return
	}
	select {
	case g.errs <- err:
	default:
		g.log.Error("error sink full, dropping", "error", err)
	}
}

func (g *Gateway) shardLabel() string {
	return strconv.Itoa(g.shardID)
}

// Connected reports whether the session considers itself live.
func (g *Gateway) Connected() bool {
	return g.notClosed.Load()
}

func (g *Gateway) Status() Status {
	g.rwlock.RLock()
	defer g.rwlock.RUnlock()
	return g.status
}

// Latency is the last HEARTBEAT to HEARTBEAT_ACK round trip.
func (g *Gateway) Latency() time.Duration {
	return time.Duration(g.latency.Load())
}

func (g *Gateway) SessionID() string {
	g.rwlock.RLock()
	defer g.rwlock.RUnlock()
	return g.sessionID
}

func (g *Gateway) Sequence() uint64 {
	return g.sequence.Load()
}

func (g *Gateway) ShardID() int {
	return g.shardID
}
