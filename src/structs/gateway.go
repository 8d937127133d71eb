package structs

type GatewayIntent = uint64

const (
	IntentGuilds                      GatewayIntent = 1 << 0
	IntentGuildMembers                GatewayIntent = 1 << 1
	IntentGuildModeration             GatewayIntent = 1 << 2
	IntentGuildExpressions            GatewayIntent = 1 << 3
	IntentGuildIntegrations           GatewayIntent = 1 << 4
	IntentGuildWebhooks               GatewayIntent = 1 << 5
	IntentGuildInvites                GatewayIntent = 1 << 6
	IntentGuildVoiceStates            GatewayIntent = 1 << 7
	IntentGuildPresences              GatewayIntent = 1 << 8
	IntentGuildMessages               GatewayIntent = 1 << 9
	IntentGuildMessageReactions       GatewayIntent = 1 << 10
	IntentGuildMessageTyping          GatewayIntent = 1 << 11
	IntentDirectMessages              GatewayIntent = 1 << 12
	IntentDirectMessageReactions      GatewayIntent = 1 << 13
	IntentDirectMessageTyping         GatewayIntent = 1 << 14
	IntentMessageContent              GatewayIntent = 1 << 15
	IntentGuildScheduledEvents        GatewayIntent = 1 << 16
	IntentAutoModerationConfiguration GatewayIntent = 1 << 20
	IntentAutoModerationExecution     GatewayIntent = 1 << 21
)

// IntentsDefault is every non-privileged intent. Presences and members
// require explicit opt-in on the developer portal.
const IntentsDefault = IntentGuilds |
	IntentGuildModeration |
	IntentGuildExpressions |
	IntentGuildIntegrations |
	IntentGuildWebhooks |
	IntentGuildInvites |
	IntentGuildVoiceStates |
	IntentGuildMessages |
	IntentGuildMessageReactions |
	IntentGuildMessageTyping |
	IntentDirectMessages |
	IntentDirectMessageReactions |
	IntentDirectMessageTyping |
	IntentGuildScheduledEvents |
	IntentAutoModerationConfiguration |
	IntentAutoModerationExecution

type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

// GatewayBotInfo is the response of `GET gateway/bot`: the websocket
// base URL plus the recommended shard count for this token.
type GatewayBotInfo struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}
