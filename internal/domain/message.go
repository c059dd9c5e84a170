package domain

import "time"

// InboundMessage is one chat message eligible for processing. It is
// immutable once enqueued: the gateway produces it, the dispatcher
// consumes it exactly once.
type InboundMessage struct {
	ID          string
	ChannelID   string
	AuthorID    string
	AuthorName  string
	FromBot     bool
	Content     string
	Attachments []AttachmentRef
	CreatedAt   time.Time
}

// AttachmentRef points at gateway-hosted storage; nothing has been
// downloaded yet.
type AttachmentRef struct {
	URL         string
	ContentType string
	FileName    string
	SizeBytes   int64
}

// DownloadedAttachment is an attachment materialized to a local temp file
// for the lifetime of one completion call.
type DownloadedAttachment struct {
	Path        string
	ContentType string
	Name        string
}

// HistoryMessage is a prior channel message as returned by the gateway's
// history API.
type HistoryMessage struct {
	ID         string
	AuthorName string
	Content    string
	CreatedAt  time.Time
}
