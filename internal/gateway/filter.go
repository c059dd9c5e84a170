package gateway

import (
	"relaybot/internal/config"
	"relaybot/internal/domain"
)

// Filter decides which inbound messages reach the dispatcher. The bot's
// own messages are always dropped; other bots are dropped unless allowed;
// channel allow/deny lists apply on top.
type Filter struct {
	allowBots bool
	allowed   map[string]struct{}
	blocked   map[string]struct{}
}

func NewFilter(cfg config.GatewayConfig) *Filter {
	f := &Filter{
		allowBots: cfg.AllowBots,
		allowed:   make(map[string]struct{}, len(cfg.AllowedChannels)),
		blocked:   make(map[string]struct{}, len(cfg.BlockedChannels)),
	}
	for _, id := range cfg.AllowedChannels {
		f.allowed[id] = struct{}{}
	}
	for _, id := range cfg.BlockedChannels {
		f.blocked[id] = struct{}{}
	}
	return f
}

// Eligible reports whether msg should be processed. selfID is the bot's
// own user id.
func (f *Filter) Eligible(msg domain.InboundMessage, selfID string) bool {
	if msg.AuthorID == selfID {
		return false
	}
	if msg.FromBot && !f.allowBots {
		return false
	}
	if _, denied := f.blocked[msg.ChannelID]; denied {
		return false
	}
	if len(f.allowed) > 0 {
		if _, ok := f.allowed[msg.ChannelID]; !ok {
			return false
		}
	}
	return true
}
