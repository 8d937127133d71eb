package gateway

import (
	"bytes"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zlib"
)

// compressStream writes each payload through one shared zlib context
// with a sync flush after every payload, the way the gateway streams
// messages over a connection's lifetime.
func compressStream(t *testing.T, payloads ...[]byte) [][]byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	out := make([][]byte, 0, len(payloads))
	for _, p := range payloads {
		if _, err := w.Write(p); err != nil {
			t.Fatalf("compress payload: %v", err)
		}
		if err := w.Flush(); err != nil {
			t.Fatalf("flush payload: %v", err)
		}
		out = append(out, append([]byte(nil), buf.Bytes()...))
		buf.Reset()
	}
	return out
}

func TestZStream_TextFrame(t *testing.T) {
	var z zstream
	ev, err := z.Push(websocket.TextMessage, []byte(`{"op":11}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev == nil || ev.Op != 11 {
		t.Fatalf("expected op 11 event, got %+v", ev)
	}
}

func TestZStream_TextFrameInvalidJSON(t *testing.T) {
	var z zstream
	if _, err := z.Push(websocket.TextMessage, []byte(`{"op":`)); err == nil {
		t.Fatal("expected decode error for truncated JSON")
	}
}

func TestZStream_ChunkedBinaryMessage(t *testing.T) {
	msgs := compressStream(t, []byte(`{"op":0,"s":7,"t":"MESSAGE_CREATE","d":{"content":"hi"}}`))
	msg := msgs[0]

	var z zstream
	// The zlib header alone can never carry the flush suffix.
	ev, err := z.Push(websocket.BinaryMessage, msg[:2])
	if err != nil {
		t.Fatalf("unexpected error on partial frame: %v", err)
	}
	if ev != nil {
		t.Fatalf("incomplete message must not produce an event, got %+v", ev)
	}

	ev, err = z.Push(websocket.BinaryMessage, msg[2:])
	if err != nil {
		t.Fatalf("unexpected error on final frame: %v", err)
	}
	if ev == nil {
		t.Fatal("expected an event once the flush suffix arrived")
	}
	if ev.Op != 0 || ev.S != 7 || ev.T != "MESSAGE_CREATE" {
		t.Errorf("decoded wrong event: %+v", ev)
	}
}

func TestZStream_SharedContextAcrossMessages(t *testing.T) {
	// The second message reuses the first one's dictionary, so it only
	// inflates through a context that survived message one.
	msgs := compressStream(t,
		[]byte(`{"op":0,"s":1,"t":"GUILD_CREATE","d":{"id":"1"}}`),
		[]byte(`{"op":0,"s":2,"t":"GUILD_CREATE","d":{"id":"2"}}`),
	)

	var z zstream
	for i, msg := range msgs {
		ev, err := z.Push(websocket.BinaryMessage, msg)
		if err != nil {
			t.Fatalf("message %d: unexpected error: %v", i, err)
		}
		if ev == nil || ev.S != uint64(i+1) {
			t.Fatalf("message %d: got %+v", i, ev)
		}
	}
}

func TestZStream_ResetDropsBufferedBytes(t *testing.T) {
	msgs := compressStream(t, []byte(`{"op":11}`))

	var z zstream
	if _, err := z.Push(websocket.BinaryMessage, msgs[0][:3]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	z.Reset()

	// A fresh stream decodes from scratch; leftovers from before the
	// reset would corrupt it.
	fresh := compressStream(t, []byte(`{"op":10,"d":{"heartbeat_interval":41250}}`))
	ev, err := z.Push(websocket.BinaryMessage, fresh[0])
	if err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
	if ev == nil || ev.Op != 10 {
		t.Fatalf("expected HELLO after reset, got %+v", ev)
	}
}

func TestZStream_CorruptFrameReturnsError(t *testing.T) {
	var z zstream
	_, err := z.Push(websocket.BinaryMessage, []byte{0x01, 0x02, 0x03, 0x00, 0x00, 0xff, 0xff})
	if err == nil {
		t.Fatal("expected an error for garbage with a valid suffix")
	}
}
