package forensic

import (
	"context"
	"sync"
)

// FakeEngine is a scriptable Engine for tests. Each Analyze call pops the
// next scripted response; when Gate is set, the call blocks until the test
// releases it, which lets tests control resolution order.
type FakeEngine struct {
	mu        sync.Mutex
	responses []FakeResponse
	calls     []Request

	// Gate, when non-nil, is received from once per Analyze call before
	// the scripted response is returned.
	Gate chan struct{}
}

type FakeResponse struct {
	Raw *RawResult
	Err error
}

func NewFake(responses ...FakeResponse) *FakeEngine {
	return &FakeEngine{responses: responses}
}

// FakeRaw builds a complete wire result suitable for Normalize.
func FakeRaw(verdict Verdict, risk RiskLevel, confidence float64, detectedLang string) *RawResult {
	c := confidence
	match := true
	return &RawResult{
		FinalVerdict:     string(verdict),
		ConfidenceScore:  &c,
		RiskLevel:        string(risk),
		DetectedLanguage: detectedLang,
		LanguageMatch:    &match,
		AnalysisLayers: Layers{
			SpatialAcoustics:       "consistent room reflections",
			EmotionalMicroDynamics: "natural pitch variance",
			CulturalLinguistics:    "colloquial phrasing present",
			BreathEmotionSync:      "breath aligned with stress points",
			SpectralArtifacts:      "no vocoder banding",
			CodeSwitching:          "organic mid-sentence switches",
		},
		SafetyActions:  []string{"IGNORE"},
		ForensicReport: "No synthesis markers found. Speech patterns are organic.",
	}
}

func (f *FakeEngine) Name() string  { return "fake" }
func (f *FakeEngine) Model() string { return "fake-model" }

func (f *FakeEngine) Analyze(ctx context.Context, req Request) (*RawResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	var resp FakeResponse
	if len(f.responses) > 0 {
		resp = f.responses[0]
		f.responses = f.responses[1:]
	} else {
		resp = FakeResponse{Raw: FakeRaw(VerdictSafe, RiskLow, 0.9, "English")}
	}
	gate := f.Gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Raw, nil
}

// Calls returns a copy of every request Analyze has received.
func (f *FakeEngine) Calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.calls))
	copy(out, f.calls)
	return out
}
