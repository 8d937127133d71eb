package utils

import (
	"fmt"
	"strconv"
	"time"
)

// discordEpoch is the first second of 2015 in unix milliseconds.
const discordEpoch int64 = 1420070400000

// Snowflake is a 64-bit unique id. The HTTP API always transports
// them as strings to avoid integer overflow in some languages.
type Snowflake uint64

func ParseSnowflake(s string) (Snowflake, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse snowflake %q: %w", s, err)
	}
	return Snowflake(v), nil
}

func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// Timestamp extracts the creation time embedded in the id.
func (s Snowflake) Timestamp() time.Time {
	ms := int64(s>>22) + discordEpoch
	return time.UnixMilli(ms)
}

func (s Snowflake) WorkerID() uint8 {
	return uint8((s >> 17) & 0x1f)
}

func (s Snowflake) ProcessID() uint8 {
	return uint8((s >> 12) & 0x1f)
}

func (s Snowflake) Increment() uint16 {
	return uint16(s & 0xfff)
}

func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Snowflake) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if len(raw) >= 2 && raw[0] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	if raw == "null" || raw == "" {
		*s = 0
		return nil
	}
	parsed, err := ParseSnowflake(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
