package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultBaseURL is Groq's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.groq.com/openai/v1/"
	// DefaultModel is the chat model asked to classify messages.
	DefaultModel = "llama-3.3-70b-versatile"

	// ReasonRemote is used when the model flags a message without a reason.
	ReasonRemote = "Content flagged by AI moderator"
)

const systemPrompt = `You are a chat content moderator. Analyze the message and determine if it contains:
- Profanity or abusive language
- Hate speech or discrimination
- Threats or harassment
- Sexually explicit content
- Spam or gibberish

Respond ONLY with JSON: {"isInappropriate": true/false, "reason": "brief reason or null"}
Be strict but fair. Normal conversation is OK.`

var (
	// ErrEmptyResponse is returned when the model answers with no choices.
	ErrEmptyResponse = errors.New("moderation: empty classifier response")
	// ErrUnparseable is returned when the reply carries no usable verdict.
	ErrUnparseable = errors.New("moderation: unparseable classifier response")

	jsonObject   = regexp.MustCompile(`\{[\s\S]*\}`)
	flaggedLoose = regexp.MustCompile(`"isinappropriate"\s*:\s*true`)
)

// RemoteConfig holds connection settings for the remote classifier.
type RemoteConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// DefaultRemoteConfig returns a RemoteConfig pointed at Groq.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		BaseURL: DefaultBaseURL,
		Model:   DefaultModel,
	}
}

// Remote classifies messages with an OpenAI-compatible chat completion
// endpoint.
type Remote struct {
	client openai.Client
	model  string
}

// NewRemote creates a Remote classifier. Retries are disabled; the Gate
// owns the latency budget.
func NewRemote(cfg RemoteConfig, opts ...option.RequestOption) *Remote {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	base := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
	}
	return &Remote{
		client: openai.NewClient(append(base, opts...)...),
		model:  cfg.Model,
	}
}

// Classify implements Classifier.
func (r *Remote) Classify(ctx context.Context, text string) (Verdict, error) {
	resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(r.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(text),
		},
		Temperature: openai.Float(0.1),
		MaxTokens:   openai.Int(100),
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("moderation: classify: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Verdict{}, ErrEmptyResponse
	}
	return parseVerdict(resp.Choices[0].Message.Content)
}

type rawVerdict struct {
	IsInappropriate *bool   `json:"isInappropriate"`
	Reason          *string `json:"reason"`
}

// parseVerdict extracts a verdict from the model's reply. The reply may wrap
// the JSON object in prose or code fences.
func parseVerdict(reply string) (Verdict, error) {
	if span := jsonObject.FindString(reply); span != "" {
		var raw rawVerdict
		if err := json.Unmarshal([]byte(span), &raw); err == nil && raw.IsInappropriate != nil {
			if !*raw.IsInappropriate {
				return Clean, nil
			}
			reason := ReasonRemote
			if raw.Reason != nil && strings.TrimSpace(*raw.Reason) != "" && *raw.Reason != "null" {
				reason = strings.TrimSpace(*raw.Reason)
			}
			return Flagged(reason), nil
		}
	}
	if flaggedLoose.MatchString(strings.ToLower(reply)) {
		return Flagged(ReasonRemote), nil
	}
	return Verdict{}, ErrUnparseable
}
