// Package advisor asks an OpenAI-compatible chat model whether a field is a
// real identifier. It is an optional accelerant for the local rule.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/dbsmedya/goadaptive/internal/config"
	"github.com/dbsmedya/goadaptive/internal/logger"
	"github.com/dbsmedya/goadaptive/internal/stats"
)

// DefaultBaseURL is the Groq OpenAI-compatible endpoint.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

// ErrUnparseableAnswer is returned when the model answers neither YES nor NO.
var ErrUnparseableAnswer = errors.New("advisor answer is neither YES nor NO")

const systemPrompt = "You classify database columns. Answer with exactly one word: YES or NO."

// Client implements policy.Advisor over a chat completion endpoint.
type Client struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	log     *logger.Logger
}

// New creates a Client from configuration.
func New(cfg *config.AdvisorConfig, log *logger.Logger) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("advisor model is required")
	}
	if log == nil {
		log = logger.NewDefault()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	clientConfig.BaseURL = strings.TrimSuffix(baseURL, "/")

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: timeout,
		log:     log.WithStage("advisor"),
	}, nil
}

// IsIdentifier asks the model whether field is a unique identifier given its statistics.
func (c *Client) IsIdentifier(ctx context.Context, field string, s stats.Summary) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: Prompt(field, s)},
		},
		Temperature: 0,
		MaxTokens:   10,
	})
	if err != nil {
		return false, fmt.Errorf("advisor request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return false, fmt.Errorf("advisor returned no choices")
	}

	answer, err := ParseAnswer(resp.Choices[0].Message.Content)
	if err != nil {
		return false, err
	}

	c.log.WithField(field).Debugw("advisor answered",
		"identifier", answer,
		"elapsed", time.Since(start))
	return answer, nil
}

// Prompt renders the question sent for field.
func Prompt(field string, s stats.Summary) string {
	return fmt.Sprintf(
		"Column %q has type %s, appears in %.1f%% of records, has %.1f%% distinct values over %d samples. "+
			"Is it a unique identifier of an entity (like a username, email or UUID) that deserves a UNIQUE constraint? "+
			"Measurements, amounts, timestamps and free text are not identifiers.",
		field, s.DetectedType, s.FrequencyRatio*100, s.UniqueRatio*100, s.OccurrenceCount)
}

// ParseAnswer maps a model reply to a boolean.
func ParseAnswer(content string) (bool, error) {
	answer := strings.ToUpper(strings.TrimSpace(content))
	answer = strings.Trim(answer, ".!\"' ")
	switch {
	case strings.HasPrefix(answer, "YES"):
		return true, nil
	case strings.HasPrefix(answer, "NO"):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnparseableAnswer, content)
	}
}
