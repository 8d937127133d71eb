package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maren-dev/maren/src/structs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(opts Options) *Gateway {
	if opts.Token == "" {
		opts.Token = "test-token"
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	return NewGateway(opts)
}

func TestHeartbeatSchedule(t *testing.T) {
	first, recurring := heartbeatSchedule(45 * time.Second)
	if first != 43*time.Second {
		t.Errorf("first beat = %v, want 43s", first)
	}
	if recurring != 45*time.Second {
		t.Errorf("recurring beat = %v, want 45s", recurring)
	}

	// Intervals shorter than the 2s lead fall back to half the interval.
	first, recurring = heartbeatSchedule(time.Second)
	if first != 500*time.Millisecond {
		t.Errorf("first beat on short interval = %v, want 500ms", first)
	}
	if recurring != time.Second {
		t.Errorf("recurring beat on short interval = %v, want 1s", recurring)
	}
}

func TestWatchdogSchedule(t *testing.T) {
	check, stale := watchdogSchedule(40 * time.Second)
	if check != 20*time.Second {
		t.Errorf("check period = %v, want 20s", check)
	}
	if stale != 80*time.Second {
		t.Errorf("stale threshold = %v, want 80s", stale)
	}
}

func TestAdvanceSequence_NeverRegresses(t *testing.T) {
	g := newTestGateway(Options{})
	ctx := context.Background()

	for _, s := range []uint64{1, 2, 5} {
		g.handleEvent(ctx, &structs.RawEvent{Op: structs.OpcodeDispatch, S: s, T: structs.EventNameMessageCreate})
	}
	if got := g.Sequence(); got != 5 {
		t.Fatalf("sequence = %d, want 5", got)
	}

	// A replayed older dispatch must not move the mark backwards.
	g.handleEvent(ctx, &structs.RawEvent{Op: structs.OpcodeDispatch, S: 3, T: structs.EventNameMessageCreate})
	if got := g.Sequence(); got != 5 {
		t.Fatalf("sequence regressed to %d after stale dispatch", got)
	}
}

func TestHandshakeEvent_IdentifyThenResume(t *testing.T) {
	g := newTestGateway(Options{Intents: structs.IntentsDefault, ShardID: 0, ShardCount: 2})
	ctx := context.Background()

	ev, resuming := g.handshakeEvent()
	if resuming {
		t.Fatal("fresh session must identify, not resume")
	}
	identify, ok := ev.D.(structs.IdentifyEvent)
	if !ok {
		t.Fatalf("expected IdentifyEvent payload, got %T", ev.D)
	}
	if identify.Token != "test-token" || identify.Shard != [2]int{0, 2} {
		t.Errorf("bad identify payload: %+v", identify)
	}

	ready := []byte(`{"session_id":"sess-1","resume_gateway_url":"wss://resume.example"}`)
	g.handleEvent(ctx, &structs.RawEvent{Op: structs.OpcodeDispatch, S: 12, T: structs.EventNameReady, D: ready})
	if got := g.SessionID(); got != "sess-1" {
		t.Fatalf("session id = %q, want sess-1", got)
	}
	if got := g.Status(); got != StatusActive {
		t.Fatalf("status = %q after dispatch, want %q", got, StatusActive)
	}

	ev, resuming = g.handshakeEvent()
	if !resuming {
		t.Fatal("session with stored id and sequence must resume")
	}
	resume, ok := ev.D.(structs.ResumeEvent)
	if !ok {
		t.Fatalf("expected ResumeEvent payload, got %T", ev.D)
	}
	if resume.SessionID != "sess-1" || resume.Seq != 12 {
		t.Errorf("bad resume payload: %+v", resume)
	}

	g.clearSession()
	if _, resuming = g.handshakeEvent(); resuming {
		t.Fatal("cleared session must identify again")
	}
	if got := g.Sequence(); got != 0 {
		t.Errorf("sequence = %d after clear, want 0", got)
	}
}

func TestHandleEvent_HeartbeatAckRecordsLatency(t *testing.T) {
	g := newTestGateway(Options{})
	g.rwlock.Lock()
	g.lastHeartbeatSent = time.Now().Add(-120 * time.Millisecond)
	g.rwlock.Unlock()

	g.handleEvent(context.Background(), &structs.RawEvent{Op: structs.OpcodeHeartbeatAck})

	lat := g.Latency()
	if lat < 120*time.Millisecond || lat > time.Second {
		t.Fatalf("latency = %v, want roughly 120ms", lat)
	}

	g.rwlock.RLock()
	acked, sent := g.lastAck, g.lastHeartbeatSent
	g.rwlock.RUnlock()
	if !acked.After(sent) {
		t.Error("ack timestamp should satisfy the watchdog")
	}
}

func TestHandleEvent_AckBeforeHeartbeatIgnored(t *testing.T) {
	g := newTestGateway(Options{})
	g.handleEvent(context.Background(), &structs.RawEvent{Op: structs.OpcodeHeartbeatAck})

	if got := g.Latency(); got != 0 {
		t.Fatalf("latency = %v for an ack with no heartbeat sent", got)
	}
	g.rwlock.RLock()
	acked := g.lastAck
	g.rwlock.RUnlock()
	if acked.IsZero() {
		t.Error("ack timestamp should still be recorded")
	}
}

func TestClose_Idempotent(t *testing.T) {
	g := newTestGateway(Options{})
	g.Close(CloseCodeUnknownError)
	g.Close(CloseCodeUnknownError)
	if g.Connected() {
		t.Fatal("closed session reports connected")
	}
	if got := g.Status(); got != StatusDisconnected {
		t.Fatalf("status = %q, want %q", got, StatusDisconnected)
	}
}

func TestDispatch_HandlerPanicReachesErrorSink(t *testing.T) {
	errs := make(chan error, 1)
	g := newTestGateway(Options{
		ErrorSink: errs,
		Router: func(g *Gateway, ev *structs.RawEvent) {
			panic("boom")
		},
	})

	g.handleEvent(context.Background(), &structs.RawEvent{Op: structs.OpcodeDispatch, S: 1, T: structs.EventNameMessageCreate})

	select {
	case err := <-errs:
		if !strings.Contains(err.Error(), "panicked") {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler panic never reached the error sink")
	}
}

func TestUpdatePresence_DroppedWhileDisconnected(t *testing.T) {
	g := newTestGateway(Options{})
	err := g.UpdatePresence(context.Background(), &structs.Activity{Name: "testing"}, structs.StatusIdle)
	if err != nil {
		t.Fatalf("presence update on a dead session must be a quiet no-op, got %v", err)
	}
}

// gatewayServer is a minimal in-process peer: it completes the
// websocket upgrade, speaks HELLO and forwards every inbound command
// to a channel the test can assert on.
type gatewayServer struct {
	t        *testing.T
	srv      *httptest.Server
	inbound  chan structs.RawEvent
	conns    chan *websocket.Conn
	hello    string
	sessions atomic.Int64
}

func newGatewayServer(t *testing.T, heartbeatIntervalMS int) *gatewayServer {
	t.Helper()
	gs := &gatewayServer{
		t:       t,
		inbound: make(chan structs.RawEvent, 16),
		conns:   make(chan *websocket.Conn, 4),
		hello:   fmt.Sprintf(`{"op":10,"d":{"heartbeat_interval":%d}}`, heartbeatIntervalMS),
	}
	upgrader := websocket.Upgrader{}
	gs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		gs.sessions.Add(1)
		gs.conns <- conn
		if err := conn.WriteMessage(websocket.TextMessage, []byte(gs.hello)); err != nil {
			return
		}
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev structs.RawEvent
			if err := json.Unmarshal(msg, &ev); err != nil {
				t.Errorf("undecodable client command %q: %v", msg, err)
				return
			}
			gs.inbound <- ev
		}
	}))
	t.Cleanup(gs.srv.Close)
	return gs
}

func (gs *gatewayServer) wsURL() string {
	return "ws" + strings.TrimPrefix(gs.srv.URL, "http")
}

func (gs *gatewayServer) next(timeout time.Duration) (structs.RawEvent, bool) {
	select {
	case ev := <-gs.inbound:
		return ev, true
	case <-time.After(timeout):
		return structs.RawEvent{}, false
	}
}

func TestGateway_IdentifyHandshakeAndHeartbeat(t *testing.T) {
	gs := newGatewayServer(t, 150)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := newTestGateway(Options{URL: gs.wsURL()})
	if err := g.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer g.Close(websocket.CloseNormalClosure)

	ev, ok := gs.next(2 * time.Second)
	if !ok {
		t.Fatal("never received a handshake")
	}
	if ev.Op != structs.OpcodeIdentify {
		t.Fatalf("first command op = %d, want IDENTIFY", ev.Op)
	}
	var identify structs.IdentifyEvent
	if err := json.Unmarshal(ev.D, &identify); err != nil {
		t.Fatalf("decode identify: %v", err)
	}
	if identify.Token != "test-token" || !identify.Compress {
		t.Errorf("bad identify: %+v", identify)
	}

	// 150ms negotiated interval: the first beat is due within a second.
	ev, ok = gs.next(2 * time.Second)
	if !ok {
		t.Fatal("never received a heartbeat")
	}
	if ev.Op != structs.OpcodeHeartbeat {
		t.Fatalf("second command op = %d, want HEARTBEAT", ev.Op)
	}
}

func TestGateway_WatchdogReconnectsOnMissingAck(t *testing.T) {
	gs := newGatewayServer(t, 150)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := newTestGateway(Options{URL: gs.wsURL()})
	if err := g.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer g.Close(websocket.CloseNormalClosure)

	if ev, ok := gs.next(2 * time.Second); !ok || ev.Op != structs.OpcodeIdentify {
		t.Fatalf("expected IDENTIFY first, got %+v (ok=%v)", ev, ok)
	}

	// The server never acks a heartbeat, so within roughly twice the
	// negotiated interval the watchdog must declare the connection
	// stale and redial with a fresh identify.
	deadline := time.Now().Add(5 * time.Second)
	for {
		ev, ok := gs.next(time.Until(deadline))
		if !ok {
			t.Fatal("watchdog never forced a reconnect")
		}
		if ev.Op == structs.OpcodeIdentify {
			break
		}
		if ev.Op != structs.OpcodeHeartbeat {
			t.Fatalf("unexpected command op %d while waiting for the redial", ev.Op)
		}
	}
	if got := gs.sessions.Load(); got < 2 {
		t.Fatalf("expected a second server session, got %d", got)
	}
}

func TestReconnect_BoundedAttemptsSurfaceError(t *testing.T) {
	var dials atomic.Int64
	dialer := &websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dials.Add(1)
			return nil, errors.New("connection refused")
		},
	}
	errs := make(chan error, 1)
	g := newTestGateway(Options{URL: "ws://127.0.0.1:1", Dialer: dialer, ErrorSink: errs})

	done := make(chan struct{})
	go func() {
		g.reconnect(context.Background())
		close(done)
	}()

	select {
	case err := <-errs:
		if !strings.Contains(err.Error(), "reconnect failed after 3 attempts") {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("reconnect never gave up")
	}
	<-done
	if got := dials.Load(); got != 3 {
		t.Fatalf("expected 3 dial attempts, got %d", got)
	}
}

func TestGateway_ResumeAfterSessionTimeout(t *testing.T) {
	gs := newGatewayServer(t, 60_000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := newTestGateway(Options{URL: gs.wsURL()})
	if err := g.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer g.Close(websocket.CloseNormalClosure)

	serverConn := <-gs.conns
	if ev, ok := gs.next(2 * time.Second); !ok || ev.Op != structs.OpcodeIdentify {
		t.Fatalf("expected IDENTIFY first, got %+v (ok=%v)", ev, ok)
	}

	ready := fmt.Sprintf(`{"op":0,"s":9,"t":"READY","d":{"session_id":"sess-9","resume_gateway_url":%q}}`, gs.wsURL())
	if err := serverConn.WriteMessage(websocket.TextMessage, []byte(ready)); err != nil {
		t.Fatalf("send READY: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for g.SessionID() != "sess-9" {
		if time.Now().After(deadline) {
			t.Fatal("session id never stored from READY")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Kick the client off with 4009: it must redial and RESUME with the
	// stored session id and sequence.
	msg := websocket.FormatCloseMessage(CloseCodeSessionTimedOut, "")
	if err := serverConn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("send close: %v", err)
	}

	ev, ok := gs.next(3 * time.Second)
	if !ok {
		t.Fatal("never received a command on the resumed connection")
	}
	if ev.Op != structs.OpcodeResume {
		t.Fatalf("post-timeout command op = %d, want RESUME", ev.Op)
	}
	var resume structs.ResumeEvent
	if err := json.Unmarshal(ev.D, &resume); err != nil {
		t.Fatalf("decode resume: %v", err)
	}
	if resume.SessionID != "sess-9" || resume.Seq != 9 {
		t.Errorf("bad resume payload: %+v", resume)
	}
	if got := gs.sessions.Load(); got != 2 {
		t.Errorf("expected 2 server sessions, got %d", got)
	}
}
