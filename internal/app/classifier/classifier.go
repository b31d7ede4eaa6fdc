package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultPreamble instructs the model to answer in the format the router
// understands.
const DefaultPreamble = `You triage an email inbox. Decide what to do with the email below.
Answer with exactly one line in the form "Action: <action>. Reason: <short reason>".
Allowed actions:
- archive: receipts, notifications and other mail worth keeping but not reading
- important: mail needing a personal reply or a decision
- newsletter: subscriptions, digests and marketing the user signed up for
- spam: unsolicited bulk mail, phishing and scams
- trash: expired or worthless mail
- keep: anything else, leave it in the inbox
Use "flag" together with the words "important" or "newsletter" in the reason when unsure.`

const errorBodyLimit = 512

// ServiceError reports a failed call to the classification service.
// It concerns a single message; the caller may carry on with the next one.
type ServiceError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classifier request: %s", e.Err)
	}
	return fmt.Sprintf("classifier responded with status %d: %s", e.StatusCode, e.Body)
}

func (e *ServiceError) Unwrap() error { return e.Err }

type Options struct {
	URL      string
	APIKey   string
	Model    string
	Preamble string
	Timeout  time.Duration
}

// HTTPClassifier talks to a chat completions compatible endpoint.
type HTTPClassifier struct {
	client *http.Client
	opts   Options
	logger *slog.Logger
}

func NewHTTPClassifier(client *http.Client, opts Options, logger *slog.Logger) *HTTPClassifier {
	if opts.Preamble == "" {
		opts.Preamble = DefaultPreamble
	}

	return &HTTPClassifier{
		client: client,
		opts:   opts,
		logger: logger,
	}
}

// Classify returns the service's free-text decision for text.
// Calls are not retried.
func (c *HTTPClassifier) Classify(ctx context.Context, text string) (string, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	payload := chatRequest{
		Model: c.opts.Model,
		Messages: []chatMessage{
			{Role: "system", Content: c.opts.Preamble},
			{Role: "user", Content: text},
		},
	}

	var resp chatResponse
	if err := c.makeRequest(ctx, payload, &resp); err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", &ServiceError{StatusCode: http.StatusOK, Body: "response has no choices"}
	}

	decision := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.logger.DebugContext(ctx, "classification received", slog.String("decision", decision))

	return decision, nil
}

func (c *HTTPClassifier) makeRequest(ctx context.Context, payload any, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &ServiceError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &ServiceError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ServiceError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode json: %w", err)}
	}

	return nil
}

type chatRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}
