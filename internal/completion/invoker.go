// Package completion talks to an OpenAI-compatible chat-completions API
// on behalf of the dispatcher, with a fixed model catalog and runtime
// model switching.
package completion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// session binds a transport to one model selection. SetModel discards the
// session and creates a fresh one; a Send already holding the old session
// finishes against the old model.
type session struct {
	model  string
	client *http.Client
}

// Invoker implements domain.Completer against an OpenAI-compatible API.
type Invoker struct {
	apiKey  string
	apiBase string
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	sess    *session
	stopped bool
}

type InvokerConfig struct {
	APIKey  string
	APIBase string
	Model   string // overrides the catalog default when set
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewInvoker(cfg InvokerConfig) (*Invoker, error) {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel()
	}
	if _, ok := LookupModel(model); !ok {
		return nil, &UnknownModelError{ID: model}
	}

	inv := &Invoker{
		apiKey:  cfg.APIKey,
		apiBase: cfg.APIBase,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
	inv.sess = inv.newSession(model)
	return inv, nil
}

func (i *Invoker) newSession(model string) *session {
	return &session{
		model:  model,
		client: &http.Client{Timeout: i.timeout},
	}
}

// ActiveModel returns the currently selected model id.
func (i *Invoker) ActiveModel() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.sess.model
}

// SetModel switches the active model, recreating the service session.
// Ids outside the catalog fail with UnknownModelError and leave the
// selection unchanged.
func (i *Invoker) SetModel(id string) error {
	if _, ok := LookupModel(id); !ok {
		return &UnknownModelError{ID: id}
	}

	i.mu.Lock()
	old := i.sess
	i.sess = i.newSession(id)
	i.mu.Unlock()

	old.client.CloseIdleConnections()
	metrics.ModelSwitches.Inc()
	i.logger.Info("model switched", "from", old.model, "to", id)
	return nil
}

// Stop releases the transport. Safe to call more than once.
func (i *Invoker) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopped {
		return
	}
	i.stopped = true
	i.sess.client.CloseIdleConnections()
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// chatMessage carries either a plain string or, when attachments are
// present, an array of typed content parts.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Send posts the prompt (plus any image attachments, base64-inlined) to
// the chat-completions endpoint using the model selected at call start.
func (i *Invoker) Send(ctx context.Context, prompt string, attachments []domain.DownloadedAttachment) (string, error) {
	i.mu.Lock()
	sess := i.sess
	i.mu.Unlock()

	metrics.CompletionRequests.Inc()

	content, err := buildContent(prompt, attachments)
	if err != nil {
		metrics.CompletionFailures.Inc()
		return "", err
	}

	body := chatRequest{
		Model:    sess.model,
		Messages: []chatMessage{{Role: "user", Content: content}},
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		metrics.CompletionFailures.Inc()
		return "", fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", i.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		metrics.CompletionFailures.Inc()
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+i.apiKey)

	resp, err := sess.client.Do(httpReq)
	if err != nil {
		metrics.CompletionFailures.Inc()
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.CompletionFailures.Inc()
		respBody, _ := io.ReadAll(resp.Body)
		return "", &ServiceError{Status: resp.StatusCode, Message: upstreamMessage(respBody)}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.CompletionFailures.Inc()
		return "", fmt.Errorf("decode: %w", err)
	}

	if len(out.Choices) == 0 {
		// empty text is a soft failure handled by the caller
		return "", nil
	}
	return out.Choices[0].Message.Content, nil
}

// buildContent returns a plain string for text-only prompts, or typed
// content parts when images ride along.
func buildContent(prompt string, attachments []domain.DownloadedAttachment) (any, error) {
	if len(attachments) == 0 {
		return prompt, nil
	}

	parts := []contentPart{{Type: "text", Text: prompt}}
	for _, att := range attachments {
		data, err := os.ReadFile(att.Path)
		if err != nil {
			return nil, fmt.Errorf("read attachment %s: %w", att.Name, err)
		}
		uri := fmt.Sprintf("data:%s;base64,%s", att.ContentType, base64.StdEncoding.EncodeToString(data))
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: uri}})
	}
	return parts, nil
}

// upstreamMessage pulls the error message out of an API error body,
// falling back to the raw body.
func upstreamMessage(body []byte) string {
	var out chatResponse
	if err := json.Unmarshal(body, &out); err == nil && out.Error != nil && out.Error.Message != "" {
		return out.Error.Message
	}
	return string(body)
}
