// Package gateway connects relaybot to Discord: it filters inbound
// messages into the dispatcher, exposes reply/typing/history operations,
// and routes the /model slash command to the completion invoker.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"relaybot/internal/completion"
	"relaybot/internal/domain"
)

// historyFetchMax is the largest page Discord serves in one call.
const historyFetchMax = 100

// MessageSink receives filtered inbound messages. The dispatcher
// satisfies it.
type MessageSink interface {
	Enqueue(msg domain.InboundMessage)
}

// ModelSwitcher handles /model commands. The completion invoker
// satisfies it.
type ModelSwitcher interface {
	ActiveModel() string
	SetModel(id string) error
}

// Discord implements domain.Gateway over a discordgo session.
type Discord struct {
	token    string
	guildID  string
	filter   *Filter
	sink     MessageSink
	switcher ModelSwitcher
	logger   *slog.Logger

	session *discordgo.Session
}

type DiscordConfig struct {
	Token    string
	GuildID  string
	Filter   *Filter
	Sink     MessageSink
	Switcher ModelSwitcher
	Logger   *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	return &Discord{
		token:    cfg.Token,
		guildID:  cfg.GuildID,
		filter:   cfg.Filter,
		sink:     cfg.Sink,
		switcher: cfg.Switcher,
		logger:   cfg.Logger,
	}
}

// Start connects to Discord, verifies permissions, and registers the
// message and slash-command handlers. It returns once connected.
func (d *Discord) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	d.session = session
	session.AddHandler(d.onMessage)
	session.AddHandler(d.onInteraction)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	if err := d.checkSendPermission(); err != nil {
		session.Close()
		return err
	}

	if err := d.registerModelCommand(); err != nil {
		d.logger.Error("slash command registration failed", "err", err)
	}

	d.logger.Info("discord gateway connected", "user", session.State.User.Username)
	return nil
}

// Close disconnects from Discord. Safe to call before Start or twice.
func (d *Discord) Close() error {
	if d.session == nil {
		return nil
	}
	return d.session.Close()
}

func (d *Discord) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return // webhook or system message
	}
	if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
		return
	}

	msg := inboundFromDiscord(m.Message)
	if !d.filter.Eligible(msg, s.State.User.ID) {
		return
	}

	d.logger.Info("discord message received",
		"author", m.Author.Username,
		"channel_id", m.ChannelID,
		"content_len", len(m.Content),
		"attachments", len(m.Attachments),
	)

	d.sink.Enqueue(msg)
}

// inboundFromDiscord maps a Discord message into the dispatcher's shape.
func inboundFromDiscord(m *discordgo.Message) domain.InboundMessage {
	refs := make([]domain.AttachmentRef, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		refs = append(refs, domain.AttachmentRef{
			URL:         a.URL,
			ContentType: a.ContentType,
			FileName:    a.Filename,
			SizeBytes:   int64(a.Size),
		})
	}
	return domain.InboundMessage{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		AuthorID:    m.Author.ID,
		AuthorName:  m.Author.Username,
		FromBot:     m.Author.Bot,
		Content:     m.Content,
		Attachments: refs,
		CreatedAt:   m.Timestamp,
	}
}

// SendReply posts text to a channel.
func (d *Discord) SendReply(ctx context.Context, channelID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := d.session.ChannelMessageSend(channelID, text); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// ShowTyping emits one typing signal. Discord expires it after roughly
// ten seconds, so the dispatcher re-sends while work is in flight.
func (d *Discord) ShowTyping(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.session.ChannelTyping(channelID)
}

// History returns up to limit messages before beforeID, newest first.
// Discord caps one fetch at 100 messages.
func (d *Discord) History(ctx context.Context, channelID string, limit int, beforeID string) ([]domain.HistoryMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit > historyFetchMax {
		limit = historyFetchMax
	}

	msgs, err := d.session.ChannelMessages(channelID, limit, beforeID, "", "")
	if err != nil {
		return nil, fmt.Errorf("discord history: %w", err)
	}

	out := make([]domain.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, domain.HistoryMessage{
			ID:         m.ID,
			AuthorName: m.Author.Username,
			Content:    m.Content,
			CreatedAt:  m.Timestamp,
		})
	}
	return out, nil
}

// checkSendPermission verifies the bot can post in the configured guild.
// Fatal at startup so a silent bot never goes unnoticed.
func (d *Discord) checkSendPermission() error {
	if d.guildID == "" {
		return nil
	}

	selfID := d.session.State.User.ID
	member, err := d.session.GuildMember(d.guildID, selfID)
	if err != nil {
		return fmt.Errorf("guild member lookup: %w", err)
	}
	guild, err := d.session.Guild(d.guildID)
	if err != nil {
		return fmt.Errorf("guild lookup: %w", err)
	}

	var perms int64
	for _, role := range guild.Roles {
		// the @everyone role shares the guild's id
		if role.ID == d.guildID {
			perms |= role.Permissions
			continue
		}
		for _, rid := range member.Roles {
			if role.ID == rid {
				perms |= role.Permissions
				break
			}
		}
	}

	if perms&discordgo.PermissionAdministrator != 0 {
		return nil
	}
	if perms&discordgo.PermissionSendMessages == 0 {
		return &domain.PermissionError{
			Permission: "Send Messages",
			Guidance:   "grant the bot's role the Send Messages permission in the server settings, then restart",
		}
	}
	return nil
}

// registerModelCommand registers the /model slash command with one
// choice per catalog entry.
func (d *Discord) registerModelCommand() error {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(completion.Catalog()))
	for _, m := range completion.Catalog() {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  fmt.Sprintf("%s (%s)", m.Label, m.Description),
			Value: m.ID,
		})
	}

	cmd := &discordgo.ApplicationCommand{
		Name:        "model",
		Description: "Switch the model used for replies",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "id",
				Description: "Model to switch to",
				Required:    true,
				Choices:     choices,
			},
		},
	}

	_, err := d.session.ApplicationCommandCreate(d.session.State.User.ID, d.guildID, cmd)
	return err
}

func (d *Discord) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != "model" {
		return
	}

	var id string
	for _, opt := range data.Options {
		if opt.Name == "id" {
			id = opt.StringValue()
		}
	}

	reply := fmt.Sprintf("Now using %s.", id)
	if err := d.switcher.SetModel(id); err != nil {
		reply = err.Error()
		d.logger.Warn("model switch rejected", "id", id, "err", err)
	} else {
		d.logger.Info("model switched via command", "id", id)
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: reply},
	})
	if err != nil {
		d.logger.Error("interaction response failed", "err", err)
	}
}
