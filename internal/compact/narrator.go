package compact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"github.com/untoldecay/ContextKeeper/internal/audit"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

const (
	defaultModel   = "claude-3-5-haiku-20241022"
	maxRetries     = 3
	initialBackoff = 1 * time.Second
)

// ErrAPIKeyRequired is returned when an API key is needed but not provided.
var ErrAPIKeyRequired = errors.New("API key required")

const categoryPromptTemplate = `You are summarizing archived context from a coding session so a future
reader can recall what happened without the original items.

Category: {{.Category}} ({{.Count}} items)
Keys: {{join .Keys ", "}}
{{- if .Sample}}
Excerpts:
{{- range .Sample}}
- {{.Key}}: {{.Excerpt}}
{{- end}}
{{- end}}

Write one plain sentence capturing what this group of items was about.
Respond with the sentence only, no preamble.`

// Narrator wraps the Anthropic API for bucket narration.
type Narrator struct {
	client         anthropic.Client
	model          anthropic.Model
	promptTemplate *template.Template
	maxRetries     uint64
	initialBackoff time.Duration
	auditEnabled   bool
	auditActor     string
}

// NewNarrator creates a narration client. Env var ANTHROPIC_API_KEY takes
// precedence over the explicit apiKey.
func NewNarrator(apiKey string) (*Narrator, error) {
	envKey := os.Getenv("ANTHROPIC_API_KEY")
	if envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	tmpl, err := template.New("category").Funcs(template.FuncMap{
		"join": strings.Join,
	}).Parse(categoryPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse narration template: %w", err)
	}

	return &Narrator{
		client:         client,
		model:          defaultModel,
		promptTemplate: tmpl,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

// NarrateCategory renders one sentence for a category summary.
func (n *Narrator) NarrateCategory(ctx context.Context, sessionID string, summary types.CategorySummary) (string, error) {
	prompt, err := n.buildPrompt(summary)
	if err != nil {
		return "", fmt.Errorf("failed to build narration prompt: %w", err)
	}

	resp, callErr := n.callWithRetry(ctx, prompt)
	if n.auditEnabled {
		// Best-effort: never fail compression because audit logging failed.
		e := &audit.Entry{
			Kind:      "llm_call",
			Actor:     n.auditActor,
			SessionID: sessionID,
			Model:     string(n.model),
			Prompt:    prompt,
			Response:  resp,
		}
		if callErr != nil {
			e.Error = callErr.Error()
		}
		_, _ = audit.Append(e)
	}
	return resp, callErr
}

func (n *Narrator) callWithRetry(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     n.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var out string
	operation := func() error {
		message, err := n.client.Messages.New(ctx, params)
		if err != nil {
			if isRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(message.Content) == 0 {
			return backoff.Permanent(fmt.Errorf("empty response from API"))
		}
		content := message.Content[0]
		if content.Type != "text" {
			return backoff.Permanent(fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type))
		}
		out = content.Text
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = n.initialBackoff
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, n.maxRetries), ctx)); err != nil {
		return "", fmt.Errorf("API call failed after %d retries: %w", n.maxRetries, err)
	}
	return out, nil
}

// isRetryable reports whether the error is transient: rate limits, server
// errors, and network timeouts.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		statusCode := apiErr.StatusCode
		return statusCode == 429 || statusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func (n *Narrator) buildPrompt(summary types.CategorySummary) (string, error) {
	var buf bytes.Buffer
	if err := n.promptTemplate.Execute(&buf, summary); err != nil {
		return "", err
	}
	return buf.String(), nil
}
