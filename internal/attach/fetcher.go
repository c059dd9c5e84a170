// Package attach downloads a message's image attachments to temporary
// files for the lifetime of one completion call.
package attach

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// Notifier posts user-visible notices, such as the per-file "too large"
// message. The gateway satisfies it.
type Notifier interface {
	SendReply(ctx context.Context, channelID, text string) error
}

// Fetcher materializes image attachments. Non-image attachments are
// skipped silently; oversized or failing ones are skipped without
// aborting the message.
type Fetcher struct {
	enabled bool
	maxSize int64
	tmpDir  string
	client  *http.Client
	notify  Notifier
	logger  *slog.Logger
}

type FetcherConfig struct {
	Enabled      bool
	MaxSizeBytes int64
	TmpDir       string // defaults to os.TempDir()
	Notifier     Notifier
	Logger       *slog.Logger
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.TmpDir == "" {
		cfg.TmpDir = os.TempDir()
	}
	return &Fetcher{
		enabled: cfg.Enabled,
		maxSize: cfg.MaxSizeBytes,
		tmpDir:  cfg.TmpDir,
		client:  &http.Client{Timeout: 60 * time.Second},
		notify:  cfg.Notifier,
		logger:  cfg.Logger,
	}
}

// Fetch downloads msg's eligible image attachments to uniquely named temp
// files. The returned release func removes them; callers must run it once
// the completion call has finished, on every exit path.
func (f *Fetcher) Fetch(ctx context.Context, msg domain.InboundMessage) ([]domain.DownloadedAttachment, func(), error) {
	if !f.enabled || len(msg.Attachments) == 0 {
		return nil, func() {}, nil
	}

	var files []domain.DownloadedAttachment
	release := func() {
		for _, file := range files {
			if err := os.Remove(file.Path); err != nil && !os.IsNotExist(err) {
				f.logger.Warn("temp attachment cleanup failed", "path", file.Path, "err", err)
			}
		}
	}

	for _, ref := range msg.Attachments {
		if !strings.HasPrefix(ref.ContentType, "image/") {
			metrics.AttachmentsSkipped.Inc()
			continue
		}

		if ref.SizeBytes > f.maxSize {
			metrics.AttachmentsSkipped.Inc()
			notice := fmt.Sprintf("Attachment %s is too large to forward (limit %s).",
				ref.FileName, humanize.Bytes(uint64(f.maxSize)))
			if err := f.notify.SendReply(ctx, msg.ChannelID, notice); err != nil {
				f.logger.Warn("too-large notice failed", "channel", msg.ChannelID, "err", err)
			}
			continue
		}

		path, err := f.download(ctx, ref)
		if err != nil {
			metrics.AttachmentsSkipped.Inc()
			f.logger.Error("attachment download failed",
				"channel", msg.ChannelID, "file", ref.FileName, "err", err)
			continue
		}

		metrics.AttachmentsDownloaded.Inc()
		files = append(files, domain.DownloadedAttachment{
			Path:        path,
			ContentType: ref.ContentType,
			Name:        ref.FileName,
		})
	}

	return files, release, nil
}

// download streams one attachment to a uniquely named temp file and
// returns its path.
func (f *Fetcher) download(ctx context.Context, ref domain.AttachmentRef) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", ref.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	name := "relaybot-" + uuid.NewString() + filepath.Ext(ref.FileName)
	path := filepath.Join(f.tmpDir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(path)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
