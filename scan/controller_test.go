package scan

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"truthscan/audio"
	"truthscan/encoder"
	"truthscan/forensic"
	"truthscan/history"
)

// orderedEngine blocks each Analyze call on a per-payload gate so tests
// control the order in which submissions resolve.
type orderedEngine struct {
	mu        sync.Mutex
	gates     map[string]chan struct{}
	responses map[string]*forensic.RawResult
}

func newOrderedEngine() *orderedEngine {
	return &orderedEngine{
		gates:     make(map[string]chan struct{}),
		responses: make(map[string]*forensic.RawResult),
	}
}

func (e *orderedEngine) expect(key string, raw *forensic.RawResult) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	gate := make(chan struct{})
	e.gates[key] = gate
	e.responses[key] = raw
	return gate
}

func (e *orderedEngine) Name() string  { return "ordered" }
func (e *orderedEngine) Model() string { return "ordered-model" }

func (e *orderedEngine) Analyze(ctx context.Context, req forensic.Request) (*forensic.RawResult, error) {
	e.mu.Lock()
	gate := e.gates[req.Payload.Data]
	raw := e.responses[req.Payload.Data]
	e.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if raw == nil {
		raw = forensic.FakeRaw(forensic.VerdictSafe, forensic.RiskLow, 0.9, "English")
	}
	return raw, nil
}

func testStore(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(filepath.Join(t.TempDir(), history.FileName))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("submission did not resolve")
	}
}

func TestResetFromIdleIsNoOp(t *testing.T) {
	c := New(Config{Engine: forensic.NewFake()})
	c.Reset()
	if c.State() != Idle {
		t.Errorf("state = %v, want idle", c.State())
	}
	if c.Result() != nil || c.Err() != nil {
		t.Error("reset from idle touched result/error slots")
	}
}

func TestSubmitTextEndToEnd(t *testing.T) {
	// The OTP-scam scenario: a matched, maximum-severity verdict lands in
	// Completed and is appended to history.
	engine := forensic.NewFake(forensic.FakeResponse{
		Raw: forensic.FakeRaw(forensic.VerdictBlockNow, forensic.RiskHigh, 0.95, "English"),
	})
	store := testStore(t)
	c := New(Config{
		Engine:         engine,
		History:        store,
		Session:        SessionContext{Operator: "analyst"},
		TargetLanguage: "English",
	})

	done, err := c.SubmitText(context.Background(), "Send your OTP now or your account will be blocked")
	if err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	wait(t, done)

	if c.State() != Completed {
		t.Fatalf("state = %v, want completed (err: %v)", c.State(), c.Err())
	}
	res := c.Result()
	if res == nil {
		t.Fatal("no result")
	}
	if res.Verdict != forensic.VerdictBlockNow || res.RiskLevel != forensic.RiskHigh {
		t.Errorf("verdict/risk = %v/%v", res.Verdict, res.RiskLevel)
	}
	if res.Operator != "analyst" {
		t.Errorf("operator = %q", res.Operator)
	}
	if store.Len() != 1 {
		t.Errorf("history entries = %d, want 1", store.Len())
	}
}

func TestSubmitTextMismatchNotPersisted(t *testing.T) {
	// Remote reports LOW risk but detected Hindi against an English
	// target: risk is escalated and the result stays out of history.
	engine := forensic.NewFake(forensic.FakeResponse{
		Raw: forensic.FakeRaw(forensic.VerdictSafe, forensic.RiskLow, 0.8, "Hindi"),
	})
	store := testStore(t)
	c := New(Config{Engine: engine, History: store, TargetLanguage: "English"})

	done, err := c.SubmitText(context.Background(), "Send your OTP now or your account will be blocked")
	if err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	wait(t, done)

	res := c.Result()
	if res == nil {
		t.Fatalf("state = %v, err = %v", c.State(), c.Err())
	}
	if res.LanguageMatch {
		t.Error("expected language mismatch")
	}
	if res.RiskLevel.Rank() < forensic.RiskMedium.Rank() {
		t.Errorf("risk = %v, want at least MEDIUM", res.RiskLevel)
	}
	if res.Verdict == forensic.VerdictSafe {
		t.Error("SAFE verdict survived mismatch")
	}
	if store.Len() != 0 {
		t.Errorf("mismatched result persisted (%d entries)", store.Len())
	}
}

func TestStaleCallbackImmunity(t *testing.T) {
	engine := newOrderedEngine()
	gateA := engine.expect("submission A", forensic.FakeRaw(forensic.VerdictBlockNow, forensic.RiskHigh, 0.99, "English"))
	gateB := engine.expect("submission B", forensic.FakeRaw(forensic.VerdictSafe, forensic.RiskLow, 0.9, "English"))

	store := testStore(t)
	c := New(Config{Engine: engine, History: store, TargetLanguage: "English"})
	ctx := context.Background()

	doneA, err := c.SubmitText(ctx, "submission A")
	if err != nil {
		t.Fatalf("submit A: %v", err)
	}
	c.Reset()
	if c.State() != Idle {
		t.Fatalf("state after reset = %v", c.State())
	}

	doneB, err := c.SubmitText(ctx, "submission B")
	if err != nil {
		t.Fatalf("submit B: %v", err)
	}

	close(gateB)
	wait(t, doneB)
	if c.State() != Completed {
		t.Fatalf("state after B = %v (err: %v)", c.State(), c.Err())
	}

	close(gateA)
	wait(t, doneA)

	// A's late resolution must not disturb B's outcome.
	if c.State() != Completed {
		t.Errorf("state after stale A = %v", c.State())
	}
	res := c.Result()
	if res == nil || res.Verdict != forensic.VerdictSafe {
		t.Errorf("result reflects stale submission: %+v", res)
	}
	if store.Len() != 1 {
		t.Errorf("history entries = %d, want 1 (only B)", store.Len())
	}
}

func TestSubmitWhileBusyRejected(t *testing.T) {
	engine := newOrderedEngine()
	gate := engine.expect("slow one", nil)

	c := New(Config{Engine: engine, TargetLanguage: "English"})
	ctx := context.Background()

	done, err := c.SubmitText(ctx, "slow one")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := c.SubmitText(ctx, "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}

	close(gate)
	wait(t, done)
}

func TestSubmitFileMissingEndsInError(t *testing.T) {
	c := New(Config{Engine: forensic.NewFake(), TargetLanguage: "English"})
	done, err := c.SubmitFile(context.Background(), filepath.Join(t.TempDir(), "absent.mp3"))
	if err != nil {
		t.Fatalf("SubmitFile: %v", err)
	}
	wait(t, done)

	if c.State() != Error {
		t.Fatalf("state = %v, want error", c.State())
	}
	if c.Err() == nil {
		t.Error("no error retained")
	}

	c.Reset()
	if c.State() != Idle || c.Err() != nil {
		t.Error("reset did not clear the error state")
	}
}

// writeTestWAV writes a WAV-shaped file: 44-byte header plus sine-free
// ramp PCM, enough for a few capture chunks.
func writeTestWAV(t *testing.T, samples int) string {
	t.Helper()
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i%2000-1000)))
	}
	path := filepath.Join(t.TempDir(), "capture.wav")
	data := append(make([]byte, audio.WAVHeaderSize), pcm...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRecordingRoundTrip(t *testing.T) {
	wav := writeTestWAV(t, encoder.SampleRate/2)
	audioCtx, err := audio.NewFakeContext(wav, false)
	if err != nil {
		t.Fatal(err)
	}

	engine := forensic.NewFake(forensic.FakeResponse{
		Raw: forensic.FakeRaw(forensic.VerdictCaution, forensic.RiskMedium, 0.7, "English"),
	})
	store := testStore(t)
	c := New(Config{Engine: engine, History: store, TargetLanguage: "English", Audio: audioCtx})

	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if c.State() != Recording {
		t.Fatalf("state = %v, want recording", c.State())
	}
	// Second start while recording is a no-op.
	if err := c.StartRecording(); err != nil {
		t.Fatalf("idempotent StartRecording: %v", err)
	}

	done, err := c.StopAndAnalyze(context.Background())
	if err != nil {
		t.Fatalf("StopAndAnalyze: %v", err)
	}
	wait(t, done)

	if c.State() != Completed {
		t.Fatalf("state = %v (err: %v)", c.State(), c.Err())
	}
	if got := c.Result().Verdict; got != forensic.VerdictCaution {
		t.Errorf("verdict = %v", got)
	}
	if store.Len() != 1 {
		t.Errorf("history entries = %d, want 1", store.Len())
	}

	// The engine received a FLAC payload, not raw PCM.
	calls := engine.Calls()
	if len(calls) != 1 {
		t.Fatalf("engine calls = %d", len(calls))
	}
	if calls[0].Payload.MIMEType != encoder.MIMEType {
		t.Errorf("mime = %q, want %q", calls[0].Payload.MIMEType, encoder.MIMEType)
	}
}

func TestLiveCallRoundTrip(t *testing.T) {
	wav := writeTestWAV(t, encoder.SampleRate)
	audioCtx, err := audio.NewFakeContext(wav, false)
	if err != nil {
		t.Fatal(err)
	}

	engine := forensic.NewFake() // default: SAFE, matched
	store := testStore(t)
	c := New(Config{
		Engine:         engine,
		History:        store,
		TargetLanguage: "English",
		Audio:          audioCtx,
		ChunkInterval:  20 * time.Millisecond,
	})
	ctx := context.Background()

	if err := c.StartLiveCall(ctx); err != nil {
		t.Fatalf("StartLiveCall: %v", err)
	}
	if c.State() != LiveCall {
		t.Fatalf("state = %v", c.State())
	}
	updates := c.LiveUpdates()
	if updates == nil {
		t.Fatal("no update stream")
	}

	select {
	case u := <-updates:
		if u.Err != nil {
			t.Fatalf("chunk failed: %v", u.Err)
		}
		if u.Verdict != forensic.VerdictSafe {
			t.Errorf("rolling verdict = %v", u.Verdict)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no live update arrived")
	}

	done, err := c.StopLiveCall(ctx, true)
	if err != nil {
		t.Fatalf("StopLiveCall: %v", err)
	}
	wait(t, done)

	if c.State() != Completed {
		t.Fatalf("state after wrap-up = %v (err: %v)", c.State(), c.Err())
	}
	// Only the wrap-up result persists, never the per-chunk updates.
	if store.Len() != 1 {
		t.Errorf("history entries = %d, want 1", store.Len())
	}
}

func TestLiveCallStopWithoutWrapUp(t *testing.T) {
	wav := writeTestWAV(t, encoder.SampleRate/4)
	audioCtx, err := audio.NewFakeContext(wav, false)
	if err != nil {
		t.Fatal(err)
	}

	store := testStore(t)
	c := New(Config{
		Engine:         forensic.NewFake(),
		History:        store,
		TargetLanguage: "English",
		Audio:          audioCtx,
		ChunkInterval:  20 * time.Millisecond,
	})
	ctx := context.Background()

	if err := c.StartLiveCall(ctx); err != nil {
		t.Fatalf("StartLiveCall: %v", err)
	}
	done, err := c.StopLiveCall(ctx, false)
	if err != nil {
		t.Fatalf("StopLiveCall: %v", err)
	}
	wait(t, done)

	if c.State() != Idle {
		t.Errorf("state = %v, want idle", c.State())
	}
	if store.Len() != 0 {
		t.Errorf("history entries = %d, want 0", store.Len())
	}
}

func TestStateStrings(t *testing.T) {
	states := map[State]string{
		Idle: "idle", Recording: "recording", LiveCall: "live-call",
		Uploading: "uploading", Analyzing: "analyzing",
		Completed: "completed", Error: "error",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
