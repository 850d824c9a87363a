package forensic

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeStampsLocalFields(t *testing.T) {
	raw := FakeRaw(VerdictSafe, RiskLow, 0.92, "English")
	req := Request{TargetLanguage: "English"}

	res, err := Normalize(raw, req, "analyst-7")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if res.ID == "" {
		t.Error("ID not stamped")
	}
	if res.Operator != "analyst-7" {
		t.Errorf("Operator = %q", res.Operator)
	}
	ts, err := time.Parse(time.RFC3339, res.Timestamp)
	if err != nil {
		t.Fatalf("timestamp %q not RFC3339: %v", res.Timestamp, err)
	}
	if time.Since(ts) > time.Minute {
		t.Errorf("timestamp %v is stale", ts)
	}
	if !res.LanguageMatch {
		t.Error("expected language match")
	}
	if res.Verdict != VerdictSafe || res.RiskLevel != RiskLow {
		t.Errorf("verdict/risk altered: %v/%v", res.Verdict, res.RiskLevel)
	}
}

func TestNormalizeClampsConfidence(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{1.7, 1.0},
		{-0.3, 0.0},
		{0.55, 0.55},
	}
	for _, c := range cases {
		raw := FakeRaw(VerdictCaution, RiskMedium, c.in, "Hindi")
		res, err := Normalize(raw, Request{TargetLanguage: "Hindi"}, "")
		if err != nil {
			t.Fatalf("Normalize(confidence=%v): %v", c.in, err)
		}
		if res.ConfidenceScore != c.want {
			t.Errorf("confidence %v normalized to %v, want %v", c.in, res.ConfidenceScore, c.want)
		}
	}
}

func TestNormalizeMismatchOverride(t *testing.T) {
	// Remote claims a safe, low-risk call but detected Hindi against an
	// English target. The local override must force caution.
	raw := FakeRaw(VerdictSafe, RiskLow, 0.8, "Hindi")
	res, err := Normalize(raw, Request{TargetLanguage: "English"}, "")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if res.LanguageMatch {
		t.Fatal("mismatch not detected")
	}
	if res.RiskLevel.Rank() < RiskMedium.Rank() {
		t.Errorf("risk = %v, want at least MEDIUM", res.RiskLevel)
	}
	if res.Verdict == VerdictSafe {
		t.Error("SAFE verdict survived a language mismatch")
	}
}

func TestNormalizeMismatchPreservesHighSeverity(t *testing.T) {
	raw := FakeRaw(VerdictBlockNow, RiskHigh, 0.97, "Telugu")
	res, err := Normalize(raw, Request{TargetLanguage: "Tamil"}, "")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if res.Verdict != VerdictBlockNow || res.RiskLevel != RiskHigh {
		t.Errorf("override must never soften: got %v/%v", res.Verdict, res.RiskLevel)
	}
}

func TestNormalizeRecomputesRemoteMatchFlag(t *testing.T) {
	// Remote says match=true, but the detected language contradicts it.
	raw := FakeRaw(VerdictSafe, RiskLow, 0.8, "Malayalam")
	match := true
	raw.LanguageMatch = &match
	res, err := Normalize(raw, Request{TargetLanguage: "English"}, "")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if res.LanguageMatch {
		t.Error("remote match flag trusted over local recompute")
	}
}

func TestNormalizeRejectsIncompleteSchema(t *testing.T) {
	base := func() *RawResult { return FakeRaw(VerdictSafe, RiskLow, 0.9, "English") }
	mutations := map[string]func(*RawResult){
		"missing verdict":    func(r *RawResult) { r.FinalVerdict = "" },
		"missing confidence": func(r *RawResult) { r.ConfidenceScore = nil },
		"missing risk":       func(r *RawResult) { r.RiskLevel = "" },
		"missing language":   func(r *RawResult) { r.DetectedLanguage = "" },
		"missing layer":      func(r *RawResult) { r.AnalysisLayers.CodeSwitching = "" },
		"missing actions":    func(r *RawResult) { r.SafetyActions = nil },
		"unknown verdict":    func(r *RawResult) { r.FinalVerdict = "MAYBE" },
		"unknown risk":       func(r *RawResult) { r.RiskLevel = "EXTREME" },
		"unknown action":     func(r *RawResult) { r.SafetyActions = []string{"PANIC"} },
	}
	for name, mutate := range mutations {
		raw := base()
		mutate(raw)
		if _, err := Normalize(raw, Request{TargetLanguage: "English"}, ""); !errors.Is(err, ErrIncompleteSchema) {
			t.Errorf("%s: expected ErrIncompleteSchema, got %v", name, err)
		}
	}

	if _, err := Normalize(nil, Request{TargetLanguage: "English"}, ""); !errors.Is(err, ErrIncompleteSchema) {
		t.Errorf("nil raw: expected ErrIncompleteSchema, got %v", err)
	}
}

func TestNormalizeDeduplicatesActions(t *testing.T) {
	raw := FakeRaw(VerdictBlockNow, RiskHigh, 0.95, "English")
	raw.SafetyActions = []string{"BLOCK", "REPORT", "block", "REPORT"}
	res, err := Normalize(raw, Request{TargetLanguage: "English"}, "")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := []SafetyAction{ActionBlock, ActionReport}
	if len(res.SafetyActions) != len(want) {
		t.Fatalf("actions = %v, want %v", res.SafetyActions, want)
	}
	for i := range want {
		if res.SafetyActions[i] != want[i] {
			t.Errorf("actions[%d] = %v, want %v", i, res.SafetyActions[i], want[i])
		}
	}
}
