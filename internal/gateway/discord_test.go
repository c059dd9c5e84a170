package gateway

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

func TestInboundFromDiscord(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := &discordgo.Message{
		ID:        "msg-1",
		ChannelID: "chan-1",
		Content:   "look at this",
		Timestamp: ts,
		Author:    &discordgo.User{ID: "u1", Username: "alice", Bot: false},
		Attachments: []*discordgo.MessageAttachment{
			{
				URL:         "https://cdn.example.com/a.png",
				ContentType: "image/png",
				Filename:    "a.png",
				Size:        1234,
			},
		},
	}

	got := inboundFromDiscord(m)

	if got.ID != "msg-1" || got.ChannelID != "chan-1" {
		t.Errorf("ids not mapped: %+v", got)
	}
	if got.AuthorID != "u1" || got.AuthorName != "alice" || got.FromBot {
		t.Errorf("author not mapped: %+v", got)
	}
	if !got.CreatedAt.Equal(ts) {
		t.Errorf("timestamp not mapped: %v", got.CreatedAt)
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("expected 1 attachment ref, got %d", len(got.Attachments))
	}
	ref := got.Attachments[0]
	if ref.URL != "https://cdn.example.com/a.png" || ref.ContentType != "image/png" ||
		ref.FileName != "a.png" || ref.SizeBytes != 1234 {
		t.Errorf("attachment ref not mapped: %+v", ref)
	}
}
