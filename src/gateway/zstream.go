package gateway

import (
	"bytes"
	"io"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zlib"

	"github.com/maren-dev/maren/src/structs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// zlibSuffix terminates every logical message inside the shared zlib
// stream: the empty deflate block emitted by a sync flush.
var zlibSuffix = []byte{0x00, 0x00, 0xff, 0xff}

// zstream reassembles logical messages from a chunked, stream
// compressed frame sequence. The inflate context carries state across
// messages within one connection, so it must be replaced on every
// reconnect via Reset.
type zstream struct {
	frame    bytes.Buffer // compressed chunks of the in-flight message
	pending  bytes.Buffer // flushed chunks not yet inflated
	inflater io.ReadCloser
	decoder  *jsoniter.Decoder
}

// Push feeds one raw frame in. It returns (nil, nil) while a binary
// message is still incomplete, the decoded event once its final chunk
// arrives, or an error the caller is expected to swallow after
// counting it.
func (z *zstream) Push(messageType int, data []byte) (*structs.RawEvent, error) {
	if messageType == websocket.TextMessage {
		ev := new(structs.RawEvent)
		if err := json.Unmarshal(data, ev); err != nil {
			return nil, err
		}
		return ev, nil
	}

	z.frame.Write(data)
	if len(data) < len(zlibSuffix) || !bytes.HasSuffix(data, zlibSuffix) {
		return nil, nil
	}

	z.pending.Write(z.frame.Bytes())
	z.frame.Reset()

	if z.inflater == nil {
		inflater, err := zlib.NewReader(&z.pending)
		if err != nil {
			z.pending.Reset()
			return nil, err
		}
		z.inflater = inflater
		z.decoder = json.NewDecoder(z.inflater)
	}

	// One sync flush always carries exactly one JSON document, so the
	// decoder never has to read past the input fed above.
	ev := new(structs.RawEvent)
	if err := z.decoder.Decode(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Reset drops buffered bytes and the inflate context.
func (z *zstream) Reset() {
	if z.inflater != nil {
		z.inflater.Close()
	}
	z.frame.Reset()
	z.pending.Reset()
	z.inflater = nil
	z.decoder = nil
}
