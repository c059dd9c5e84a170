package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"relaybot/internal/domain"
)

const (
	historyPageSize = 100
	historyMaxTotal = 1000
)

// HistoryProvider is the slice of the gateway the context assembler needs.
type HistoryProvider interface {
	History(ctx context.Context, channelID string, limit int, beforeID string) ([]domain.HistoryMessage, error)
}

// BuildPrompt renders the completion prompt for msg. windowSize semantics:
// 1 means no context (the message text alone, no history fetch), 0 means
// unlimited history (paged, capped at historyMaxTotal), N > 1 means the N
// most recent messages in a single fetch.
func BuildPrompt(ctx context.Context, history HistoryProvider, msg domain.InboundMessage, windowSize int) (string, error) {
	if windowSize == 1 {
		return msg.Content, nil
	}

	var fetched []domain.HistoryMessage
	var err error
	if windowSize == 0 {
		fetched, err = fetchAll(ctx, history, msg.ChannelID)
	} else {
		fetched, err = history.History(ctx, msg.ChannelID, windowSize, "")
	}
	if err != nil {
		return "", fmt.Errorf("fetch history: %w", err)
	}

	prior := make([]domain.HistoryMessage, 0, len(fetched))
	for _, h := range fetched {
		if h.ID == msg.ID {
			continue
		}
		prior = append(prior, h)
	}
	sort.Slice(prior, func(i, j int) bool {
		return prior[i].CreatedAt.Before(prior[j].CreatedAt)
	})

	if len(prior) == 0 {
		return msg.Content, nil
	}

	var sb strings.Builder
	for _, h := range prior {
		sb.WriteString(h.AuthorName)
		sb.WriteString(": ")
		sb.WriteString(h.Content)
		sb.WriteByte('\n')
	}
	sb.WriteString(msg.AuthorName)
	sb.WriteString(": ")
	sb.WriteString(msg.Content)
	return sb.String(), nil
}

// fetchAll pages backward through the channel history until a short page
// signals the beginning of the channel or the total cap is reached.
func fetchAll(ctx context.Context, history HistoryProvider, channelID string) ([]domain.HistoryMessage, error) {
	var all []domain.HistoryMessage
	beforeID := ""
	for len(all) < historyMaxTotal {
		page, err := history.History(ctx, channelID, historyPageSize, beforeID)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < historyPageSize {
			break
		}
		// pages are newest first; the last entry is the oldest seen so far
		beforeID = page[len(page)-1].ID
	}
	return all, nil
}
