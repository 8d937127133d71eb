package structs

import "time"

type StatusType = string

const (
	StatusOnline       StatusType = "online"
	StatusDoNotDisturb StatusType = "dnd"
	StatusIdle         StatusType = "idle"
	StatusInvisible    StatusType = "invisible"
	StatusOffline      StatusType = "offline"
)

type ActivityType = int

const (
	ActivityTypeGame      ActivityType = 0
	ActivityTypeStreaming ActivityType = 1
	ActivityTypeListening ActivityType = 2
	ActivityTypeWatching  ActivityType = 3
	ActivityTypeCustom    ActivityType = 4
	ActivityTypeCompeting ActivityType = 5
)

type Activity struct {
	Name string       `json:"name"`
	Type ActivityType `json:"type"`
	URL  string       `json:"url,omitempty"`
}

// Presence is the shape sent inside IDENTIFY and PRESENCE_UPDATE.
type Presence struct {
	Since      int64      `json:"since"`
	Activities []Activity `json:"activities,omitempty"`
	Status     StatusType `json:"status,omitempty"`
	AFK        bool       `json:"afk"`
}

// NewPresence builds the payload shared by IDENTIFY and
// PRESENCE_UPDATE.
func NewPresence(activity *Activity, status StatusType) *Presence {
	p := &Presence{Since: time.Now().UnixMilli()}
	if activity != nil {
		p.Activities = []Activity{*activity}
	}
	if status != "" {
		p.Status = status
	}
	return p
}

type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	GlobalName    string `json:"global_name,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}

type UnavailableGuild struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

type Guild struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	OwnerID     string    `json:"owner_id"`
	MemberCount int       `json:"member_count,omitempty"`
	Unavailable bool      `json:"unavailable,omitempty"`
	Channels    []Channel `json:"channels,omitempty"`
}

type ChannelType = int

const (
	ChannelTypeGuildText  ChannelType = 0
	ChannelTypeDM         ChannelType = 1
	ChannelTypeGuildVoice ChannelType = 2
)

type Channel struct {
	ID      string      `json:"id"`
	Type    ChannelType `json:"type"`
	GuildID string      `json:"guild_id,omitempty"`
	Name    string      `json:"name,omitempty"`
}
