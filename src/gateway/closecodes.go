package gateway

import (
	"errors"
	"fmt"
)

type CloseEventCode = int

// https://discord.com/developers/docs/events/gateway#disconnections
const (
	CloseCodeUnknownError         CloseEventCode = 4000
	CloseCodeUnknownOpcode        CloseEventCode = 4001
	CloseCodeDecodeError          CloseEventCode = 4002
	CloseCodeNotAuthenticated     CloseEventCode = 4003
	CloseCodeAuthenticationFailed CloseEventCode = 4004
	CloseCodeAlreadyAuthenticated CloseEventCode = 4005
	CloseCodeInvalidSeq           CloseEventCode = 4007
	CloseCodeRateLimited          CloseEventCode = 4008
	CloseCodeSessionTimedOut      CloseEventCode = 4009
	CloseCodeInvalidShard         CloseEventCode = 4010
	CloseCodeShardingRequired     CloseEventCode = 4011
	CloseCodeInvalidAPIVersion    CloseEventCode = 4012
	CloseCodeInvalidIntents       CloseEventCode = 4013
	CloseCodeDisallowedIntents    CloseEventCode = 4014
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed: token is not valid")
	ErrInvalidShard         = errors.New("invalid shard")
	ErrShardingRequired     = errors.New("sharding required")
	ErrInvalidAPIVersion    = errors.New("invalid API version")
	ErrInvalidIntents       = errors.New("invalid intents")
	ErrDisallowedIntents    = errors.New("disallowed intents: enable the privileged intents on the developer portal")

	ErrNotConnected = errors.New("gateway is not connected")
	ErrAlreadyOpen  = errors.New("gateway is already open")
)

// CloseAction is what the session does next after a disconnect.
type CloseAction int

const (
	// CloseActionReconnect reconnects with a fresh identify.
	CloseActionReconnect CloseAction = iota
	// CloseActionResume replays the session from the stored sequence.
	CloseActionResume
	// CloseActionFatal surfaces the mapped error and stops the session.
	CloseActionFatal
)

// classifyClose is a pure mapping from close code to next action.
// Unknown codes are treated as transient.
func classifyClose(code CloseEventCode) CloseAction {
	switch code {
	case CloseCodeSessionTimedOut:
		return CloseActionResume
	case CloseCodeAuthenticationFailed,
		CloseCodeInvalidShard,
		CloseCodeShardingRequired,
		CloseCodeInvalidAPIVersion,
		CloseCodeInvalidIntents,
		CloseCodeDisallowedIntents:
		return CloseActionFatal
	default:
		return CloseActionReconnect
	}
}

// closeError builds a fresh error value for a fatal close code.
func closeError(code CloseEventCode, shardID int) error {
	var kind error
	switch code {
	case CloseCodeAuthenticationFailed:
		kind = ErrAuthenticationFailed
	case CloseCodeInvalidShard:
		kind = ErrInvalidShard
	case CloseCodeShardingRequired:
		kind = ErrShardingRequired
	case CloseCodeInvalidAPIVersion:
		kind = ErrInvalidAPIVersion
	case CloseCodeInvalidIntents:
		kind = ErrInvalidIntents
	case CloseCodeDisallowedIntents:
		kind = ErrDisallowedIntents
	default:
		kind = errors.New("unknown gateway error")
	}
	return fmt.Errorf("shard %d closed with code %d: %w", shardID, code, kind)
}
