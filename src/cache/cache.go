// Package cache is the in-memory object store updated by event
// handlers. The gateway never touches it directly.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/maren-dev/maren/src/structs"
)

// ChannelsCachingPolicy selects which guild channel types get a
// lookup symlink.
type ChannelsCachingPolicy int

const (
	PolicyGuildText ChannelsCachingPolicy = iota
	PolicyGuildVoice
	PolicyAll
	PolicyNone
)

type Options struct {
	Disabled bool
	// MaxGuilds and friends bound each store; zero means the default
	// of 2048 entries.
	MaxGuilds     int
	MaxUsers      int
	MaxDMChannels int
	ChannelPolicy ChannelsCachingPolicy
}

// Manager holds guilds, users and DM channels keyed by snowflake.
// Guild channels are reachable through a channel id to guild id
// symlink index, as a channel is stored inside its guild.
type Manager struct {
	disabled bool
	policy   ChannelsCachingPolicy

	guilds     *lru.Cache[string, *structs.Guild]
	users      *lru.Cache[string, *structs.User]
	dmChannels *lru.Cache[string, *structs.Channel]
	symlinks   *lru.Cache[string, string] // channel id -> guild id
}

func NewManager(opts Options) *Manager {
	size := func(n int) int {
		if n <= 0 {
			return 2048
		}
		return n
	}
	guilds, _ := lru.New[string, *structs.Guild](size(opts.MaxGuilds))
	users, _ := lru.New[string, *structs.User](size(opts.MaxUsers))
	dms, _ := lru.New[string, *structs.Channel](size(opts.MaxDMChannels))
	symlinks, _ := lru.New[string, string](8 * size(opts.MaxGuilds))
	return &Manager{
		disabled:   opts.Disabled,
		policy:     opts.ChannelPolicy,
		guilds:     guilds,
		users:      users,
		dmChannels: dms,
		symlinks:   symlinks,
	}
}

// SetGuild stores a guild and symlinks its channels per the policy.
func (m *Manager) SetGuild(guild *structs.Guild) {
	if m.disabled || guild == nil {
		return
	}
	m.guilds.Add(guild.ID, guild)
	if m.policy == PolicyNone {
		return
	}
	for _, ch := range guild.Channels {
		if !m.channelCacheable(ch.Type) {
			continue
		}
		m.symlinks.Add(ch.ID, guild.ID)
	}
}

func (m *Manager) channelCacheable(t structs.ChannelType) bool {
	switch m.policy {
	case PolicyAll:
		return true
	case PolicyGuildVoice:
		return t == structs.ChannelTypeGuildVoice
	default:
		return t == structs.ChannelTypeGuildText
	}
}

func (m *Manager) Guild(id string) (*structs.Guild, bool) {
	if m.disabled {
		return nil, false
	}
	return m.guilds.Get(id)
}

func (m *Manager) RemoveGuild(id string) {
	if g, ok := m.guilds.Get(id); ok {
		for _, ch := range g.Channels {
			m.symlinks.Remove(ch.ID)
		}
	}
	m.guilds.Remove(id)
}

func (m *Manager) SetUser(user *structs.User) {
	if m.disabled || user == nil {
		return
	}
	m.users.Add(user.ID, user)
}

func (m *Manager) User(id string) (*structs.User, bool) {
	if m.disabled {
		return nil, false
	}
	return m.users.Get(id)
}

// SetGuildChannel upserts one channel inside its cached guild and
// refreshes the symlink per the policy. A channel whose guild is not
// cached is skipped; it becomes reachable with the next guild event.
func (m *Manager) SetGuildChannel(ch *structs.Channel) {
	if m.disabled || ch == nil || ch.GuildID == "" {
		return
	}
	guild, ok := m.guilds.Get(ch.GuildID)
	if !ok {
		return
	}
	replaced := false
	for i := range guild.Channels {
		if guild.Channels[i].ID == ch.ID {
			guild.Channels[i] = *ch
			replaced = true
			break
		}
	}
	if !replaced {
		guild.Channels = append(guild.Channels, *ch)
	}
	if m.channelCacheable(ch.Type) {
		m.symlinks.Add(ch.ID, ch.GuildID)
	}
}

// RemoveChannel drops a channel from every store it may live in: the
// DM store, the symlink index and its guild's channel list.
func (m *Manager) RemoveChannel(id string) {
	if m.disabled {
		return
	}
	m.dmChannels.Remove(id)
	guildID, ok := m.symlinks.Get(id)
	m.symlinks.Remove(id)
	if !ok {
		return
	}
	guild, ok := m.guilds.Get(guildID)
	if !ok {
		return
	}
	for i := range guild.Channels {
		if guild.Channels[i].ID == id {
			guild.Channels = append(guild.Channels[:i], guild.Channels[i+1:]...)
			return
		}
	}
}

func (m *Manager) SetDMChannel(ch *structs.Channel) {
	if m.disabled || ch == nil {
		return
	}
	m.dmChannels.Add(ch.ID, ch)
}

// Channel finds a channel without knowing its guild: DM store first,
// then through the symlink index into the owning guild.
func (m *Manager) Channel(id string) (*structs.Channel, bool) {
	if m.disabled {
		return nil, false
	}
	if ch, ok := m.dmChannels.Get(id); ok {
		return ch, true
	}
	guildID, ok := m.symlinks.Get(id)
	if !ok {
		return nil, false
	}
	guild, ok := m.guilds.Get(guildID)
	if !ok {
		return nil, false
	}
	for i := range guild.Channels {
		if guild.Channels[i].ID == id {
			return &guild.Channels[i], true
		}
	}
	return nil, false
}

func (m *Manager) GuildsCount() int {
	return m.guilds.Len()
}

func (m *Manager) UsersCount() int {
	return m.users.Len()
}

func (m *Manager) GuildChannelsCount() int {
	return m.symlinks.Len()
}

func (m *Manager) TotalChannelsCount() int {
	return m.dmChannels.Len() + m.symlinks.Len()
}
