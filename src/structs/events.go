package structs

import (
	"encoding/json"
	"log/slog"
)

type EventName = string

const (
	EventNameReady         EventName = "READY"
	EventNameResumed       EventName = "RESUMED"
	EventNameGuildCreate   EventName = "GUILD_CREATE"
	EventNameGuildUpdate   EventName = "GUILD_UPDATE"
	EventNameGuildDelete   EventName = "GUILD_DELETE"
	EventNameChannelCreate EventName = "CHANNEL_CREATE"
	EventNameChannelUpdate EventName = "CHANNEL_UPDATE"
	EventNameChannelDelete EventName = "CHANNEL_DELETE"
	EventNameMessageCreate EventName = "MESSAGE_CREATE"
)

type EventOpcode = int

const (
	OpcodeDispatch       EventOpcode = 0
	OpcodeHeartbeat      EventOpcode = 1
	OpcodeIdentify       EventOpcode = 2
	OpcodePresenceUpdate EventOpcode = 3
	OpcodeResume         EventOpcode = 6
	OpcodeReconnect      EventOpcode = 7
	OpcodeInvalidSession EventOpcode = 9
	OpcodeHello          EventOpcode = 10
	OpcodeHeartbeatAck   EventOpcode = 11
)

// RawEvent is one inbound gateway message. D stays raw to delay
// decoding until the opcode is known.
type RawEvent struct {
	Op EventOpcode     `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  uint64          `json:"s,omitempty"`
	T  EventName       `json:"t,omitempty"`
}

func (re *RawEvent) LogValue() slog.Value {
	return slog.GroupValue(slog.Int("op_code", re.Op),
		slog.Uint64("sequence", re.S),
		slog.String("event_name", re.T))
}

// Event is one outbound gateway message.
type Event struct {
	Op EventOpcode `json:"op"`
	D  interface{} `json:"d,omitempty"`
}

type HelloEvent struct {
	HeartbeatInterval uint64 `json:"heartbeat_interval"`
}

type IdentifyEventProperties struct {
	Os      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type IdentifyEvent struct {
	Token      string                  `json:"token"`
	Intents    uint64                  `json:"intents"`
	Properties IdentifyEventProperties `json:"properties"`
	Compress   bool                    `json:"compress"`
	Shard      [2]int                  `json:"shard"`
	Presence   *Presence               `json:"presence,omitempty"`
}

type ResumeEvent struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       uint64 `json:"seq"`
}

type ReadyEvent struct {
	V                int                `json:"v"`
	User             *User              `json:"user"`
	Guilds           []UnavailableGuild `json:"guilds"`
	SessionID        string             `json:"session_id"`
	ResumeGatewayURL string             `json:"resume_gateway_url"`
	Shard            []int              `json:"shard,omitempty"`
}
