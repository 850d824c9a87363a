// Package forensic holds the client-side contract around the remote voice
// fraud analysis engine: the request/response schema, the retry policy, the
// result validator, and the live-call streaming variant.
package forensic

import (
	"fmt"
	"strings"
)

// Verdict is the top-level categorical outcome of an analysis. The severity
// ordering Safe < Caution < SyntheticFraud < BlockNow is load-bearing: the
// language-mismatch gate compares against it.
type Verdict string

const (
	VerdictSafe           Verdict = "SAFE"
	VerdictCaution        Verdict = "CAUTION"
	VerdictSyntheticFraud Verdict = "AI_GENERATED_FRAUD"
	VerdictBlockNow       Verdict = "BLOCK_NOW"
)

func (v Verdict) Severity() int {
	switch v {
	case VerdictSafe:
		return 0
	case VerdictCaution:
		return 1
	case VerdictSyntheticFraud:
		return 2
	case VerdictBlockNow:
		return 3
	}
	return -1
}

func ParseVerdict(s string) (Verdict, error) {
	v := Verdict(strings.ToUpper(strings.TrimSpace(s)))
	if v.Severity() < 0 {
		return "", fmt.Errorf("unknown verdict %q", s)
	}
	return v, nil
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	}
	return -1
}

func ParseRiskLevel(s string) (RiskLevel, error) {
	r := RiskLevel(strings.ToUpper(strings.TrimSpace(s)))
	if r.Rank() < 0 {
		return "", fmt.Errorf("unknown risk level %q", s)
	}
	return r, nil
}

type SafetyAction string

const (
	ActionIgnore SafetyAction = "IGNORE"
	ActionBlock  SafetyAction = "BLOCK"
	ActionReport SafetyAction = "REPORT"
)

func ParseSafetyAction(s string) (SafetyAction, error) {
	a := SafetyAction(strings.ToUpper(strings.TrimSpace(s)))
	switch a {
	case ActionIgnore, ActionBlock, ActionReport:
		return a, nil
	}
	return "", fmt.Errorf("unknown safety action %q", s)
}

// Language is an operator-selected target locale, or Auto for detection.
type Language string

const LanguageAuto Language = "auto"

var Supported = []Language{"Tamil", "English", "Hindi", "Malayalam", "Telugu"}

func ParseLanguage(s string) (Language, error) {
	trimmed := strings.TrimSpace(s)
	if strings.EqualFold(trimmed, string(LanguageAuto)) {
		return LanguageAuto, nil
	}
	for _, l := range Supported {
		if strings.EqualFold(trimmed, string(l)) {
			return l, nil
		}
	}
	return "", fmt.Errorf("unsupported language %q", s)
}

// Matches reports whether a detected language satisfies this target.
// Auto-detect always matches. The detected string may be a qualified form
// like "Tamil-English mix"; a prefix match on the target counts.
func (l Language) Matches(detected string) bool {
	if l == LanguageAuto {
		return true
	}
	d := strings.ToLower(strings.TrimSpace(detected))
	t := strings.ToLower(string(l))
	return d == t || strings.HasPrefix(d, t+"-") || strings.HasPrefix(d, t+" ")
}

// Layers is the fixed-shape record of forensic-layer explanations. Every
// field must be present and non-empty for a result to be valid.
type Layers struct {
	SpatialAcoustics       string `json:"spatial_acoustics"`
	EmotionalMicroDynamics string `json:"emotional_micro_dynamics"`
	CulturalLinguistics    string `json:"cultural_linguistics"`
	BreathEmotionSync      string `json:"breath_emotion_sync"`
	SpectralArtifacts      string `json:"spectral_artifacts"`
	CodeSwitching          string `json:"code_switching"`
}

// MissingField returns the JSON key of the first empty layer, or "".
func (l Layers) MissingField() string {
	fields := []struct{ key, val string }{
		{"spatial_acoustics", l.SpatialAcoustics},
		{"emotional_micro_dynamics", l.EmotionalMicroDynamics},
		{"cultural_linguistics", l.CulturalLinguistics},
		{"breath_emotion_sync", l.BreathEmotionSync},
		{"spectral_artifacts", l.SpectralArtifacts},
		{"code_switching", l.CodeSwitching},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.val) == "" {
			return f.key
		}
	}
	return ""
}

// Result is the canonical, validated outcome of one analysis. ID, Timestamp
// and Operator are stamped locally and never trusted from the wire.
type Result struct {
	ID               string         `json:"id"`
	Timestamp        string         `json:"timestamp"`
	Verdict          Verdict        `json:"verdict"`
	ConfidenceScore  float64        `json:"confidence_score"`
	RiskLevel        RiskLevel      `json:"risk_level"`
	DetectedLanguage string         `json:"detected_language"`
	LanguageMatch    bool           `json:"language_match"`
	Layers           Layers         `json:"analysis_layers"`
	SafetyActions    []SafetyAction `json:"safety_actions"`
	ForensicReport   string         `json:"forensic_report"`
	Operator         string         `json:"operator"`
}

// LiveUpdate is the rolling, self-contained output of one live-call chunk.
// Each update supersedes the previous one; none are persisted.
type LiveUpdate struct {
	Verdict       Verdict
	Confidence    float64
	CurrentIntent string
	Mismatch      bool
	Err           error // non-nil when the chunk failed; session stays open
}
