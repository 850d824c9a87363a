package audio

import (
	"os"
	"sync"
	"time"

	"truthscan/encoder"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext is a capture backend driven by a WAV file, for tests and
// offline runs. The file's PCM is delivered through the normal callback
// path, followed by silence until the device is stopped.
type FakeContext struct {
	pcm      []byte
	realtime bool
}

// NewFakeContext loads the file at wavPath. With realtime set, data is
// paced at the capture sample rate; otherwise the whole sample is fed
// immediately on Start.
func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return &FakeContext{pcm: data, realtime: realtime}, nil
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake capture"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	return &FakeCapture{pcm: f.pcm, realtime: f.realtime}, nil
}

type FakeCapture struct {
	pcm      []byte
	realtime bool

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake capture" }

func (f *FakeCapture) loadCallback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) feed(cb DataCallback, pos int) int {
	end := min(pos+fakeFrameSize*fakeBytesPerFrame, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	return end
}

func (f *FakeCapture) Start() error {
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})

	if !f.realtime {
		// Deliver the whole sample synchronously, then keep the device
		// "open" by feeding silence until Stop.
		if cb := f.loadCallback(); cb != nil {
			for pos := 0; pos < len(f.pcm); {
				pos = f.feed(cb, pos)
			}
		}
		go f.silenceLoop(time.Millisecond)
		return nil
	}

	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(encoder.SampleRate)
	go func() {
		pos := 0
		for {
			select {
			case <-f.stopCh:
				close(f.feedDone)
				return
			default:
			}
			cb := f.loadCallback()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}
			if pos < len(f.pcm) {
				pos = f.feed(cb, pos)
			} else {
				cb(make([]byte, fakeFrameSize*fakeBytesPerFrame), fakeFrameSize)
			}
			select {
			case <-f.stopCh:
				close(f.feedDone)
				return
			case <-time.After(interval):
			}
		}
	}()
	return nil
}

func (f *FakeCapture) silenceLoop(interval time.Duration) {
	defer close(f.feedDone)
	silence := make([]byte, fakeFrameSize*fakeBytesPerFrame)
	for {
		select {
		case <-f.stopCh:
			return
		case <-time.After(interval):
		}
		if cb := f.loadCallback(); cb != nil {
			cb(silence, fakeFrameSize)
		}
	}
}

func (f *FakeCapture) Stop() {
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	if f.feedDone != nil {
		<-f.feedDone
	}
}

func (f *FakeCapture) Close() {}
