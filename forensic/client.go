package forensic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	openai "github.com/sashabaranov/go-openai"

	"truthscan/payload"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	defaultModel   = "gemini-2.5-flash"
)

const systemInstruction = `You are a production-grade AI voice fraud detection and forensic engine.

STRICT OPERATIONAL PARAMETERS:
1. You analyze audio data (base64) and SMS/text content for cross-verification.
2. You support: Tamil, English, Hindi, Telugu, Malayalam, and mixed forms such as Tamil-English.
3. Analyze for robotic cadence, 8-15Hz micro-tremor loss, and synthetic reverb patterns.
4. If the auxiliary text contains words like "otp" or "bank", flag high-risk scam patterns.
5. Always report both the requested target language and the language you actually detected.

RESPONSE PROTOCOL:
- Respond ONLY in valid, parseable JSON. No markdown fences. No explanations.

REQUIRED JSON SCHEMA:
{
  "final_verdict": "SAFE | CAUTION | AI_GENERATED_FRAUD | BLOCK_NOW",
  "confidence_score": number (0.0 to 1.0),
  "risk_level": "LOW | MEDIUM | HIGH",
  "detected_language": "string (e.g., Tamil-English mix)",
  "language_match": boolean,
  "analysis_layers": {
    "spatial_acoustics": "string",
    "emotional_micro_dynamics": "string",
    "cultural_linguistics": "string",
    "breath_emotion_sync": "string",
    "spectral_artifacts": "string",
    "code_switching": "string"
  },
  "safety_actions": ["IGNORE" | "BLOCK" | "REPORT", ...],
  "forensic_report": "string (one-paragraph justification)"
}`

// chatCompleter is the slice of the OpenAI-compatible client the engine
// needs; tests substitute a fake.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type ClientConfig struct {
	APIKey  string
	BaseURL string // OpenAI-compatible gateway; defaults to the Gemini endpoint
	Model   string
	Retry   *RetryPolicy
}

// Client submits analysis requests to an OpenAI-compatible chat-completion
// gateway and applies the bounded retry policy on transient failures.
// Analyze is safe for concurrent use; live mode runs one call per chunk.
type Client struct {
	api      chatCompleter
	model    string
	retry    RetryPolicy
	attempts atomic.Int64
}

func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	retry := DefaultRetryPolicy
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = baseURL

	return &Client{
		api:   openai.NewClientWithConfig(apiCfg),
		model: model,
		retry: retry,
	}
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) Model() string { return c.model }

// Attempts reports how many round-trips the most recent Analyze made.
func (c *Client) Attempts() int { return int(c.attempts.Load()) }

func (c *Client) Analyze(ctx context.Context, req Request) (*RawResult, error) {
	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemInstruction,
		},
		buildUserMessage(req),
	}

	var resp openai.ChatCompletionResponse
	attempts, err := c.retry.Do(ctx, func() error {
		var callErr error
		resp, callErr = c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    c.model,
			Messages: messages,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Temperature: 0.2,
		})
		return callErr
	})
	c.attempts.Store(int64(attempts))
	if err != nil {
		return nil, fmt.Errorf("engine call failed after %d attempts: %w", attempts, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrMalformedResponse)
	}
	return parseRawResult(resp.Choices[0].Message.Content)
}

func buildUserMessage(req Request) openai.ChatCompletionMessage {
	header := fmt.Sprintf(`FORENSIC_ANALYSIS_REQUEST:
{
  "target_language": %q,
  "auxiliary_text": %q
}

Run the 6-layer forensic scan. Return JSON only.`, req.TargetLanguage, req.AuxiliaryText)

	if req.Payload.Kind == payload.KindText {
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: header + "\n\nSAMPLE_TEXT:\n" + req.Payload.Data,
		}
	}

	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: header},
			{
				Type: openai.ChatMessagePartTypeInputAudio,
				InputAudio: &openai.ChatMessagePartInputAudio{
					Data:   req.Payload.Data,
					Format: formatFromMIME(req.Payload.MIMEType),
				},
			},
		},
	}
}

func formatFromMIME(mimeType string) string {
	switch mimeType {
	case "audio/wav":
		return "wav"
	case "audio/flac":
		return "flac"
	default:
		return "mp3"
	}
}

// parseRawResult strips incidental markdown fences and decodes the wire
// schema. Parse failures are permanent: the fault is in the payload, not
// the transport.
func parseRawResult(text string) (*RawResult, error) {
	clean := strings.TrimSpace(text)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)

	if clean == "" {
		return nil, fmt.Errorf("%w: empty response text", ErrMalformedResponse)
	}

	var raw RawResult
	if err := json.Unmarshal([]byte(clean), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &raw, nil
}
