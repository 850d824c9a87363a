// Package scan orchestrates the capture → encode → analyze → persist
// pipeline and owns the state transitions between its phases.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"truthscan/audio"
	"truthscan/encoder"
	"truthscan/forensic"
	"truthscan/history"
	"truthscan/log"
	"truthscan/payload"
)

// State is the controller's current phase. Transitions:
// Idle → {Recording, LiveCall, Uploading} → Analyzing → {Completed, Error} → Idle.
type State int

const (
	Idle State = iota
	Recording
	LiveCall
	Uploading
	Analyzing
	Completed
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case LiveCall:
		return "live-call"
	case Uploading:
		return "uploading"
	case Analyzing:
		return "analyzing"
	case Completed:
		return "completed"
	case Error:
		return "error"
	}
	return "unknown"
}

// ErrBusy is returned when a submission is attempted while another capture
// or analysis is in progress.
var ErrBusy = errors.New("another analysis is in progress")

const defaultChunkInterval = 3 * time.Second

// SessionContext identifies the operator running this session. It is
// stamped into every result; no credential checking happens here.
type SessionContext struct {
	Operator string
}

type Config struct {
	Engine  forensic.Engine
	History *history.Store
	Session SessionContext

	TargetLanguage forensic.Language
	AuxiliaryText  string

	// Audio capture; nil disables the mic and live modes.
	Audio  audio.Context
	Device *audio.DeviceInfo

	// ChunkInterval is the live-mode slice length; defaults to ~3s.
	ChunkInterval time.Duration
}

// Controller drives one analysis at a time. All transitions happen under a
// single mutex; in-flight work resolves through a generation token so a
// reset detaches stale callbacks instead of racing them. The mutex is
// never held across capture-device or network calls.
type Controller struct {
	cfg Config

	mu      sync.Mutex
	state   State
	gen     uint64
	result  *forensic.Result
	lastErr error

	capture audio.CaptureDevice
	pcm     []byte

	live     *forensic.LiveSession
	liveBuf  []byte
	liveStop chan struct{}
}

func New(cfg Config) *Controller {
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = defaultChunkInterval
	}
	return &Controller{cfg: cfg}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Result returns the completed analysis, or nil outside Completed.
func (c *Controller) Result() *forensic.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Err returns the failure that put the controller into Error, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Reset clears the current result or error and returns to Idle. Safe to
// call in any state, including mid-flight: pending work is detached by
// bumping the generation token, so its eventual resolution is ignored.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return
	}
	c.gen++
	capture := c.detachCaptureLocked()
	live := c.detachLiveLocked()
	c.pcm = nil
	c.liveBuf = nil
	c.result = nil
	c.lastErr = nil
	c.state = Idle
	c.mu.Unlock()

	releaseCapture(capture)
	if live != nil {
		// Close waits for in-flight chunks; no need to block the reset.
		go live.Close()
	}
}

// StartRecording acquires the microphone and begins buffering PCM. Calling
// it while already recording is a no-op. A hardware acquisition failure
// ends in Error with nothing recorded.
func (c *Controller) StartRecording() error {
	c.mu.Lock()
	if c.state == Recording {
		c.mu.Unlock()
		return nil
	}
	if c.state != Idle {
		c.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrBusy, c.state)
	}
	// Enter Recording before touching hardware: some backends deliver the
	// first data synchronously from Start, and the callback gate below
	// only accepts data while Recording.
	c.state = Recording
	c.pcm = nil
	c.mu.Unlock()

	capture, err := c.acquireCapture(func(data []byte) {
		c.mu.Lock()
		if c.state == Recording {
			c.pcm = append(c.pcm, data...)
		}
		c.mu.Unlock()
	})

	c.mu.Lock()
	if c.state != Recording { // reset during acquisition
		c.mu.Unlock()
		releaseCapture(capture)
		return nil
	}
	if err != nil {
		c.lastErr = fmt.Errorf("could not acquire microphone: %w", err)
		c.state = Error
		c.pcm = nil
		c.mu.Unlock()
		return c.lastErr
	}
	c.capture = capture
	c.mu.Unlock()
	return nil
}

// StopAndAnalyze ends the recording, merges the buffered audio and hands
// it to the analysis pipeline. The returned channel closes when the
// submission resolves (into Completed or Error, unless reset first).
func (c *Controller) StopAndAnalyze(ctx context.Context) (<-chan struct{}, error) {
	c.mu.Lock()
	if c.state != Recording {
		c.mu.Unlock()
		return nil, fmt.Errorf("not recording (state %s)", c.state)
	}
	capture := c.detachCaptureLocked()
	pcm := c.pcm
	c.pcm = nil
	gen := c.gen
	if len(pcm) == 0 {
		c.lastErr = errors.New("no audio captured")
		c.state = Error
		c.mu.Unlock()
		releaseCapture(capture)
		return nil, c.lastErr
	}
	c.state = Analyzing
	c.mu.Unlock()

	releaseCapture(capture)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.analyzePCM(ctx, gen, pcm, "mic")
	}()
	return done, nil
}

// SubmitFile analyzes an audio file from disk.
func (c *Controller) SubmitFile(ctx context.Context, path string) (<-chan struct{}, error) {
	return c.submit(ctx, "file", func() (payload.Payload, error) {
		return payload.FromFile(path)
	})
}

// SubmitURL fetches and analyzes a remote audio sample.
func (c *Controller) SubmitURL(ctx context.Context, url string) (<-chan struct{}, error) {
	return c.submit(ctx, "url", func() (payload.Payload, error) {
		return payload.FromURL(ctx, url)
	})
}

// SubmitText analyzes plain text (message or transcript).
func (c *Controller) SubmitText(ctx context.Context, text string) (<-chan struct{}, error) {
	return c.submit(ctx, "text", func() (payload.Payload, error) {
		return payload.FromText(text)
	})
}

func (c *Controller) submit(ctx context.Context, mode string, build func() (payload.Payload, error)) (<-chan struct{}, error) {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: state %s", ErrBusy, c.state)
	}
	gen := c.gen
	c.state = Uploading
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)

		start := time.Now()
		p, err := build()
		if err != nil {
			c.fail(gen, err)
			return
		}
		if !c.advance(gen, Analyzing) {
			return
		}
		c.analyze(ctx, gen, p, mode, 0, start)
	}()
	return done, nil
}

// analyzePCM compresses captured audio and runs the analysis pipeline.
func (c *Controller) analyzePCM(ctx context.Context, gen uint64, pcm []byte, mode string) {
	start := time.Now()
	flacData, encodeTime, err := encoder.EncodePCM(pcm)
	if err != nil {
		c.fail(gen, fmt.Errorf("could not encode audio: %w", err))
		return
	}
	p, err := payload.FromAudio(flacData, encoder.MIMEType)
	if err != nil {
		c.fail(gen, err)
		return
	}
	c.analyze(ctx, gen, p, mode, encodeTime, start)
}

func (c *Controller) analyze(ctx context.Context, gen uint64, p payload.Payload, mode string, encodeTime time.Duration, start time.Time) {
	req := forensic.Request{
		Payload:        p,
		TargetLanguage: c.cfg.TargetLanguage,
		AuxiliaryText:  c.cfg.AuxiliaryText,
	}
	raw, err := c.cfg.Engine.Analyze(ctx, req)
	if err != nil {
		c.fail(gen, err)
		return
	}
	res, err := forensic.Normalize(raw, req, c.cfg.Session.Operator)
	if err != nil {
		c.fail(gen, err)
		return
	}

	attempts := 1
	if ar, ok := c.cfg.Engine.(interface{ Attempts() int }); ok {
		attempts = ar.Attempts()
	}
	log.AnalysisMetrics(log.Metrics{
		PayloadKB:    float64(p.RawBytes) / 1024,
		EncodeTimeMs: float64(encodeTime.Milliseconds()),
		Attempts:     attempts,
		TotalTimeMs:  float64(time.Since(start).Milliseconds()),
	}, mode, p.MIMEType, c.cfg.Engine.Model())

	c.complete(gen, res)
}

// complete installs a finished result, unless a reset detached this
// submission in the meantime.
func (c *Controller) complete(gen uint64, res forensic.Result) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.result = &res
	c.lastErr = nil
	c.state = Completed
	c.mu.Unlock()

	log.Verdict(string(res.Verdict), string(res.RiskLevel), res.DetectedLanguage, res.ConfidenceScore, res.LanguageMatch)
	log.VerdictText(res.Operator, string(res.Verdict), string(res.RiskLevel), res.ConfidenceScore)

	if c.cfg.History != nil {
		if _, err := c.cfg.History.Append(res); err != nil {
			log.Errorf("could not persist history entry: %v", err)
		}
	}
}

func (c *Controller) fail(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.lastErr = err
	c.result = nil
	c.state = Error
	log.Errorf("analysis failed: %v", err)
}

// advance moves to the next phase if this submission is still current.
func (c *Controller) advance(gen uint64, next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.state = next
	return true
}

func (c *Controller) acquireCapture(onData func([]byte)) (audio.CaptureDevice, error) {
	if c.cfg.Audio == nil {
		return nil, errors.New("no audio backend configured")
	}
	capture, err := c.cfg.Audio.NewCapture(c.cfg.Device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return nil, err
	}
	capture.SetCallback(func(data []byte, _ uint32) {
		buf := make([]byte, len(data))
		copy(buf, data)
		onData(buf)
	})
	if err := capture.Start(); err != nil {
		capture.Close()
		return nil, err
	}
	return capture, nil
}

func (c *Controller) detachCaptureLocked() audio.CaptureDevice {
	capture := c.capture
	c.capture = nil
	return capture
}

func (c *Controller) detachLiveLocked() *forensic.LiveSession {
	if c.liveStop != nil {
		close(c.liveStop)
		c.liveStop = nil
	}
	live := c.live
	c.live = nil
	return live
}

// releaseCapture stops a detached device. Never called under the
// controller mutex: Stop waits out in-flight data callbacks, which
// themselves take the mutex.
func releaseCapture(capture audio.CaptureDevice) {
	if capture == nil {
		return
	}
	capture.ClearCallback()
	capture.Stop()
	capture.Close()
}
