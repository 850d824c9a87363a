package forensic

import (
	"context"
	"errors"
	"fmt"
	"os"

	"truthscan/payload"
)

var (
	// ErrOverloaded is the transient signal eligible for automatic retry.
	ErrOverloaded = errors.New("remote engine overloaded")
	// ErrMalformedResponse marks a response that failed to parse as JSON.
	// The fault is in parsing, not transport, so it is never retried.
	ErrMalformedResponse = errors.New("malformed engine response")
	// ErrIncompleteSchema marks a parsed response missing a required field.
	ErrIncompleteSchema = errors.New("incomplete response schema")
)

// Request is one immutable submission to the remote engine.
type Request struct {
	Payload        payload.Payload
	TargetLanguage Language
	AuxiliaryText  string // optional cross-verification text, e.g. SMS content
}

// RawResult is the wire-level response schema the engine is instructed to
// produce. Validation and normalization happen in Normalize, not here.
type RawResult struct {
	FinalVerdict     string   `json:"final_verdict"`
	ConfidenceScore  *float64 `json:"confidence_score"`
	RiskLevel        string   `json:"risk_level"`
	DetectedLanguage string   `json:"detected_language"`
	LanguageMatch    *bool    `json:"language_match"`
	AnalysisLayers   Layers   `json:"analysis_layers"`
	SafetyActions    []string `json:"safety_actions"`
	ForensicReport   string   `json:"forensic_report"`
}

// Engine is the remote analysis capability. Implementations own transport
// and retry; they never touch history or orchestrator state.
type Engine interface {
	Name() string
	Model() string
	Analyze(ctx context.Context, req Request) (*RawResult, error)
}

// New picks an engine from the environment, the way the CLI boots.
func New() (Engine, error) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("set GEMINI_API_KEY or OPENAI_API_KEY environment variable")
	}

	cfg := ClientConfig{
		APIKey:  key,
		BaseURL: os.Getenv("TRUTHSCAN_BASE_URL"),
		Model:   os.Getenv("TRUTHSCAN_MODEL"),
	}
	return NewClient(cfg), nil
}
