package forensic

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Normalize validates the wire result against the schema contract, clamps
// out-of-range values, enforces the language-mismatch safety override, and
// stamps the local bookkeeping fields. A result that fails validation is
// rejected outright rather than patched up.
func Normalize(raw *RawResult, req Request, operator string) (Result, error) {
	if raw == nil {
		return Result{}, fmt.Errorf("%w: nil result", ErrIncompleteSchema)
	}
	if raw.FinalVerdict == "" {
		return Result{}, fmt.Errorf("%w: missing final_verdict", ErrIncompleteSchema)
	}
	if raw.ConfidenceScore == nil {
		return Result{}, fmt.Errorf("%w: missing confidence_score", ErrIncompleteSchema)
	}
	if raw.RiskLevel == "" {
		return Result{}, fmt.Errorf("%w: missing risk_level", ErrIncompleteSchema)
	}
	if raw.DetectedLanguage == "" {
		return Result{}, fmt.Errorf("%w: missing detected_language", ErrIncompleteSchema)
	}
	if field := raw.AnalysisLayers.MissingField(); field != "" {
		return Result{}, fmt.Errorf("%w: missing analysis layer %q", ErrIncompleteSchema, field)
	}

	verdict, err := ParseVerdict(raw.FinalVerdict)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrIncompleteSchema, err)
	}
	risk, err := ParseRiskLevel(raw.RiskLevel)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrIncompleteSchema, err)
	}
	actions, err := parseActions(raw.SafetyActions)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrIncompleteSchema, err)
	}

	confidence := clamp01(*raw.ConfidenceScore)

	// LanguageMatch is recomputed locally; the remote flag is advisory only.
	match := req.TargetLanguage.Matches(raw.DetectedLanguage)

	if !match {
		if risk.Rank() < RiskMedium.Rank() {
			risk = RiskMedium
		}
		if verdict == VerdictSafe {
			verdict = VerdictCaution
		}
	}

	return Result{
		ID:               uuid.NewString(),
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		Verdict:          verdict,
		ConfidenceScore:  confidence,
		RiskLevel:        risk,
		DetectedLanguage: raw.DetectedLanguage,
		LanguageMatch:    match,
		Layers:           raw.AnalysisLayers,
		SafetyActions:    actions,
		ForensicReport:   strings.TrimSpace(raw.ForensicReport),
		Operator:         operator,
	}, nil
}

func parseActions(raw []string) ([]SafetyAction, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing safety_actions")
	}
	seen := make(map[SafetyAction]bool, len(raw))
	actions := make([]SafetyAction, 0, len(raw))
	for _, s := range raw {
		action, err := ParseSafetyAction(s)
		if err != nil {
			return nil, err
		}
		if seen[action] {
			continue
		}
		seen[action] = true
		actions = append(actions, action)
	}
	return actions, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
