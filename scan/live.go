package scan

import (
	"context"
	"fmt"
	"time"

	"truthscan/forensic"
)

// StartLiveCall acquires the microphone and begins streaming fixed-interval
// chunks to the engine. Rolling verdicts arrive on LiveUpdates. Calling it
// while already live is a no-op.
func (c *Controller) StartLiveCall(ctx context.Context) error {
	c.mu.Lock()
	if c.state == LiveCall {
		c.mu.Unlock()
		return nil
	}
	if c.state != Idle {
		c.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrBusy, c.state)
	}
	c.state = LiveCall
	c.pcm = nil
	c.liveBuf = nil
	c.live = forensic.NewLiveSession(c.cfg.Engine, c.cfg.TargetLanguage, c.cfg.AuxiliaryText)
	c.liveStop = make(chan struct{})
	c.mu.Unlock()

	capture, err := c.acquireCapture(func(data []byte) {
		c.mu.Lock()
		if c.state == LiveCall {
			c.liveBuf = append(c.liveBuf, data...)
			c.pcm = append(c.pcm, data...) // full session, kept for the wrap-up
		}
		c.mu.Unlock()
	})

	c.mu.Lock()
	if c.state != LiveCall { // reset during acquisition
		c.mu.Unlock()
		releaseCapture(capture)
		return nil
	}
	if err != nil {
		live := c.detachLiveLocked()
		c.lastErr = fmt.Errorf("could not acquire microphone: %w", err)
		c.state = Error
		c.pcm = nil
		c.liveBuf = nil
		c.mu.Unlock()
		if live != nil {
			go live.Close()
		}
		return c.lastErr
	}
	c.capture = capture
	live, stop := c.live, c.liveStop
	c.mu.Unlock()

	go c.sliceChunks(ctx, live, stop)
	return nil
}

// LiveUpdates returns the rolling verdict stream of the active live call,
// or nil when no live call is running.
func (c *Controller) LiveUpdates() <-chan forensic.LiveUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live == nil {
		return nil
	}
	return c.live.Updates()
}

// sliceChunks drains the live buffer at the configured interval and submits
// each slice independently.
func (c *Controller) sliceChunks(ctx context.Context, live *forensic.LiveSession, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.ChunkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if chunk := c.takeChunk(); len(chunk) > 0 {
				live.ProcessChunk(ctx, chunk)
			}
		}
	}
}

func (c *Controller) takeChunk() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	chunk := c.liveBuf
	c.liveBuf = nil
	return chunk
}

// StopLiveCall releases the microphone synchronously and closes the chunk
// session. With wrapUp set, the full buffered session audio is submitted
// for one terminal analysis whose result is persisted like any other; the
// per-chunk updates themselves are never persisted. The returned channel
// closes once the session (and the wrap-up, if any) has resolved.
func (c *Controller) StopLiveCall(ctx context.Context, wrapUp bool) (<-chan struct{}, error) {
	c.mu.Lock()
	if c.state != LiveCall {
		c.mu.Unlock()
		return nil, fmt.Errorf("no live call in progress (state %s)", c.state)
	}
	capture := c.detachCaptureLocked()
	live := c.detachLiveLocked()
	final := c.liveBuf
	c.liveBuf = nil
	pcm := c.pcm
	c.pcm = nil
	gen := c.gen

	if wrapUp && len(pcm) > 0 {
		c.state = Analyzing
	} else {
		wrapUp = false
		c.state = Idle
	}
	c.mu.Unlock()

	// Track release is part of the stop itself, not deferred behind any
	// pending chunk submission.
	releaseCapture(capture)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if len(final) > 0 {
			live.ProcessChunk(ctx, final)
		}
		live.Close()
		if wrapUp {
			c.analyzePCM(ctx, gen, pcm, "live")
		}
	}()
	return done, nil
}
