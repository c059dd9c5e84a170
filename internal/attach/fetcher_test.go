package attach

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"relaybot/internal/domain"
)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []string
}

func (n *recordingNotifier) SendReply(ctx context.Context, channelID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, text)
	return nil
}

func testFetcher(t *testing.T, notify *recordingNotifier) *Fetcher {
	t.Helper()
	return NewFetcher(FetcherConfig{
		Enabled:      true,
		MaxSizeBytes: 1024,
		TmpDir:       t.TempDir(),
		Notifier:     notify,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func imageServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func msgWith(refs ...domain.AttachmentRef) domain.InboundMessage {
	return domain.InboundMessage{
		ID:          "m1",
		ChannelID:   "c1",
		AuthorName:  "alice",
		Content:     "look at this",
		Attachments: refs,
		CreatedAt:   time.Now(),
	}
}

func TestFetchDownloadsImages(t *testing.T) {
	ts := imageServer(t, "png bytes")
	notify := &recordingNotifier{}
	f := testFetcher(t, notify)

	files, release, err := f.Fetch(context.Background(), msgWith(domain.AttachmentRef{
		URL:         ts.URL,
		ContentType: "image/png",
		FileName:    "photo.png",
		SizeBytes:   9,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}

	data, err := os.ReadFile(files[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "png bytes" {
		t.Errorf("downloaded content mismatch: %q", data)
	}
	if !strings.HasSuffix(files[0].Path, ".png") {
		t.Errorf("temp file should keep the extension: %s", files[0].Path)
	}

	release()
	if _, err := os.Stat(files[0].Path); !os.IsNotExist(err) {
		t.Error("release must remove the temp file")
	}
	if len(notify.notices) != 0 {
		t.Errorf("unexpected notices: %v", notify.notices)
	}
}

func TestFetchDisabled(t *testing.T) {
	notify := &recordingNotifier{}
	f := NewFetcher(FetcherConfig{
		Enabled:  false,
		Notifier: notify,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	files, release, err := f.Fetch(context.Background(), msgWith(domain.AttachmentRef{
		URL: "http://unreachable.invalid", ContentType: "image/png", FileName: "x.png",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("disabled fetcher must not download, got %d files", len(files))
	}
	release() // must be safe with nothing downloaded
}

func TestFetchSkipsNonImages(t *testing.T) {
	notify := &recordingNotifier{}
	f := testFetcher(t, notify)

	files, release, err := f.Fetch(context.Background(), msgWith(domain.AttachmentRef{
		URL: "http://unreachable.invalid", ContentType: "application/pdf", FileName: "doc.pdf", SizeBytes: 10,
	}))
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if len(files) != 0 {
		t.Errorf("non-image attachments must be skipped, got %d", len(files))
	}
	if len(notify.notices) != 0 {
		t.Errorf("non-image skip must be silent, got %v", notify.notices)
	}
}

func TestFetchTooLargeNotice(t *testing.T) {
	ts := imageServer(t, "small")
	notify := &recordingNotifier{}
	f := testFetcher(t, notify)

	files, release, err := f.Fetch(context.Background(), msgWith(
		domain.AttachmentRef{URL: ts.URL, ContentType: "image/png", FileName: "huge.png", SizeBytes: 10_000_000},
		domain.AttachmentRef{URL: ts.URL, ContentType: "image/jpeg", FileName: "ok.jpg", SizeBytes: 5},
	))
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if len(files) != 1 || files[0].Name != "ok.jpg" {
		t.Fatalf("the small attachment should still download, got %v", files)
	}
	if len(notify.notices) != 1 {
		t.Fatalf("expected exactly one too-large notice, got %d", len(notify.notices))
	}
	if !strings.Contains(notify.notices[0], "huge.png") {
		t.Errorf("notice must name the file: %q", notify.notices[0])
	}
}

func TestFetchDownloadFailureSkipped(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()
	good := imageServer(t, "jpeg bytes")

	notify := &recordingNotifier{}
	f := testFetcher(t, notify)

	files, release, err := f.Fetch(context.Background(), msgWith(
		domain.AttachmentRef{URL: bad.URL, ContentType: "image/png", FileName: "gone.png", SizeBytes: 5},
		domain.AttachmentRef{URL: good.URL, ContentType: "image/jpeg", FileName: "ok.jpg", SizeBytes: 5},
	))
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if len(files) != 1 || files[0].Name != "ok.jpg" {
		t.Fatalf("failed download must not abort the rest, got %v", files)
	}
	if len(notify.notices) != 0 {
		t.Errorf("download failures are logged, not announced: %v", notify.notices)
	}
}
