// Package dispatch is the core of relaybot: a per-channel FIFO queue
// dispatcher that turns inbound chat messages into completion calls and
// chunked replies. Messages within one channel are processed strictly in
// arrival order; distinct channels drain concurrently.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const typingInterval = 7 * time.Second

const (
	errorReply       = "Sorry, something went wrong while handling that message. Please try again."
	emptyReplyNotice = "The model returned an empty response. Please try again."
)

// AttachmentSource materializes a message's image attachments for one
// completion call.
type AttachmentSource interface {
	// Fetch downloads the message's eligible attachments. The returned
	// release func removes any temporary storage and is safe to call when
	// no attachments were downloaded.
	Fetch(ctx context.Context, msg domain.InboundMessage) ([]domain.DownloadedAttachment, func(), error)
}

// channelQueue holds one channel's pending messages and its drain state.
// Both fields are guarded by the Dispatcher mutex.
type channelQueue struct {
	msgs     []domain.InboundMessage
	draining bool
}

// Dispatcher owns the per-channel queues. One goroutine drains each
// channel with a non-empty queue; the mutex only guards queue metadata,
// never message processing.
type Dispatcher struct {
	gateway     domain.Gateway
	completer   domain.Completer
	attachments AttachmentSource
	windowSize  int
	logger      *slog.Logger

	typingEvery time.Duration

	mu     sync.Mutex
	queues map[string]*channelQueue
	closed bool
	drains sync.WaitGroup
}

// New creates a Dispatcher. windowSize follows BuildPrompt semantics.
func New(gw domain.Gateway, comp domain.Completer, att AttachmentSource, windowSize int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		gateway:     gw,
		completer:   comp,
		attachments: att,
		windowSize:  windowSize,
		logger:      logger,
		typingEvery: typingInterval,
		queues:      make(map[string]*channelQueue),
	}
}

// Enqueue appends msg to its channel's queue and starts a drain goroutine
// if none is active for that channel. Messages enqueued after Close are
// dropped.
func (d *Dispatcher) Enqueue(msg domain.InboundMessage) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("message dropped, dispatcher closed", "channel", msg.ChannelID, "message", msg.ID)
		return
	}
	q := d.queues[msg.ChannelID]
	if q == nil {
		q = &channelQueue{}
		d.queues[msg.ChannelID] = q
	}
	q.msgs = append(q.msgs, msg)
	metrics.QueueDepth.Inc()
	start := !q.draining
	if start {
		q.draining = true
		d.drains.Add(1)
	}
	d.mu.Unlock()

	if start {
		go d.drain(msg.ChannelID)
	}
}

// drain processes the channel's queue head-first until it is empty, then
// clears the draining flag and exits. At most one drain goroutine runs
// per channel.
func (d *Dispatcher) drain(channelID string) {
	defer d.drains.Done()
	for {
		d.mu.Lock()
		q := d.queues[channelID]
		if len(q.msgs) == 0 {
			q.draining = false
			d.mu.Unlock()
			return
		}
		msg := q.msgs[0]
		q.msgs = q.msgs[1:]
		metrics.QueueDepth.Dec()
		d.mu.Unlock()

		d.process(msg)
	}
}

// process handles one message to completion. Errors are absorbed here:
// logged, counted, and answered with a single best-effort error reply so
// the drain loop always advances.
func (d *Dispatcher) process(msg domain.InboundMessage) {
	ctx := context.Background()
	metrics.MessagesTotal.Inc()

	stopTyping := d.startTyping(ctx, msg.ChannelID)
	defer stopTyping()

	if err := d.handle(ctx, msg); err != nil {
		metrics.MessagesFailed.Inc()
		d.logger.Error("message processing failed",
			"channel", msg.ChannelID, "message", msg.ID, "err", err)
		if sendErr := d.gateway.SendReply(ctx, msg.ChannelID, errorReply); sendErr != nil {
			d.logger.Error("error reply failed", "channel", msg.ChannelID, "err", sendErr)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg domain.InboundMessage) error {
	var (
		files   []domain.DownloadedAttachment
		release func()
		attErr  error

		prompt    string
		promptErr error
	)

	// Attachment download and history fetch are independent I/O.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		files, release, attErr = d.attachments.Fetch(ctx, msg)
	}()
	go func() {
		defer wg.Done()
		prompt, promptErr = BuildPrompt(ctx, d.gateway, msg, d.windowSize)
	}()
	wg.Wait()

	if release != nil {
		defer release()
	}
	if attErr != nil {
		return fmt.Errorf("fetch attachments: %w", attErr)
	}
	if promptErr != nil {
		return fmt.Errorf("build prompt: %w", promptErr)
	}

	text, err := d.completer.Send(ctx, prompt, files)
	if err != nil {
		return fmt.Errorf("completion: %w", err)
	}

	if strings.TrimSpace(text) == "" {
		// soft failure, tell the user rather than erroring
		return d.gateway.SendReply(ctx, msg.ChannelID, emptyReplyNotice)
	}

	for _, chunk := range Split(text, ReplyLimit) {
		if err := d.gateway.SendReply(ctx, msg.ChannelID, chunk); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
	}
	return nil
}

// startTyping emits a typing signal immediately and then on every tick
// until the returned stop func is called. Stop blocks until the heartbeat
// goroutine has exited.
func (d *Dispatcher) startTyping(ctx context.Context, channelID string) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(d.typingEvery)
		defer ticker.Stop()

		d.showTyping(ctx, channelID)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.showTyping(ctx, channelID)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (d *Dispatcher) showTyping(ctx context.Context, channelID string) {
	if err := d.gateway.ShowTyping(ctx, channelID); err != nil && ctx.Err() == nil {
		d.logger.Debug("typing signal failed", "channel", channelID, "err", err)
	}
}

// Close stops intake and waits for in-flight drains until ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.drains.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}
