package forensic

import (
	"context"
	"strings"
	"sync"
	"time"

	"truthscan/encoder"
	"truthscan/log"
	"truthscan/payload"
)

// LiveStats summarizes a live-call session after Close.
type LiveStats struct {
	Chunks    int
	Failed    int
	SentBytes int
	Duration  time.Duration
}

// LiveSession analyzes a call in near-real time. Each PCM chunk is
// compressed and submitted independently; verdict updates arrive on
// Updates() as they come back. A failed chunk surfaces as an update
// carrying Err and never tears down the session.
type LiveSession struct {
	engine Engine
	target Language
	aux    string

	updates chan LiveUpdate
	wg      sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	chunks    int
	failed    int
	sentBytes int
	started   time.Time
}

func NewLiveSession(engine Engine, target Language, auxText string) *LiveSession {
	return &LiveSession{
		engine:  engine,
		target:  target,
		aux:     auxText,
		updates: make(chan LiveUpdate, 16),
		started: time.Now(),
	}
}

// Updates returns the stream of partial verdicts. The channel is closed
// by Close after all in-flight chunks have resolved.
func (s *LiveSession) Updates() <-chan LiveUpdate {
	return s.updates
}

// ProcessChunk submits one chunk of raw PCM for analysis. It returns
// immediately; the verdict (or error) arrives on Updates.
func (s *LiveSession) ProcessChunk(ctx context.Context, pcm []byte) {
	s.mu.Lock()
	if s.closed || len(pcm) == 0 {
		s.mu.Unlock()
		return
	}
	s.chunks++
	s.mu.Unlock()

	buf := make([]byte, len(pcm))
	copy(buf, pcm)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.analyzeChunk(ctx, buf)
	}()
}

func (s *LiveSession) analyzeChunk(ctx context.Context, pcm []byte) {
	flacData, _, err := encoder.EncodePCM(pcm)
	if err != nil {
		s.fail(err)
		return
	}
	p, err := payload.FromAudio(flacData, encoder.MIMEType)
	if err != nil {
		s.fail(err)
		return
	}

	s.mu.Lock()
	s.sentBytes += len(flacData)
	s.mu.Unlock()

	raw, err := s.engine.Analyze(ctx, Request{
		Payload:        p,
		TargetLanguage: s.target,
		AuxiliaryText:  s.aux,
	})
	if err != nil {
		s.fail(err)
		return
	}
	s.push(updateFromRaw(raw, s.target))
}

func (s *LiveSession) fail(err error) {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
	log.Errorf("live chunk analysis failed: %v", err)
	s.push(LiveUpdate{Err: err})
}

// push never blocks; a slow consumer loses intermediate updates, which is
// acceptable for a rolling verdict display.
func (s *LiveSession) push(u LiveUpdate) {
	select {
	case s.updates <- u:
	default:
	}
}

// Close rejects further chunks, waits for in-flight ones, closes the
// update stream and reports session totals.
func (s *LiveSession) Close() LiveStats {
	s.mu.Lock()
	if s.closed {
		stats := s.statsLocked()
		s.mu.Unlock()
		return stats
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	stats := s.statsLocked()
	s.mu.Unlock()

	close(s.updates)
	log.LiveMetrics(sessionMetrics(stats))
	return stats
}

func sessionMetrics(stats LiveStats) log.LiveMetricsData {
	return log.LiveMetricsData{
		Chunks:   stats.Chunks,
		Failed:   stats.Failed,
		SentKB:   float64(stats.SentBytes) / 1024,
		SessionS: stats.Duration.Seconds(),
	}
}

func (s *LiveSession) statsLocked() LiveStats {
	return LiveStats{
		Chunks:    s.chunks,
		Failed:    s.failed,
		SentBytes: s.sentBytes,
		Duration:  time.Since(s.started),
	}
}

func updateFromRaw(raw *RawResult, target Language) LiveUpdate {
	u := LiveUpdate{CurrentIntent: firstSentence(raw.ForensicReport)}
	if v, err := ParseVerdict(raw.FinalVerdict); err == nil {
		u.Verdict = v
	} else {
		u.Verdict = VerdictCaution
	}
	if raw.ConfidenceScore != nil {
		u.Confidence = clamp01(*raw.ConfidenceScore)
	}
	if raw.DetectedLanguage != "" {
		u.Mismatch = !target.Matches(raw.DetectedLanguage)
	}
	return u
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '.'); i > 0 {
		return text[:i+1]
	}
	return text
}
