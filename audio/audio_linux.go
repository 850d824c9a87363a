//go:build linux

package audio

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

// Call audio is often quiet (earpiece bleed, speakerphone at a distance),
// so the capture path applies a fixed software gain on top of a raised
// source volume. Clipping is clamped, not avoided.
const captureGain = 8

type pulseBackend struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	return &pulseBackend{client: c}, nil
}

func (p *pulseBackend) Devices() ([]DeviceInfo, error) {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	devices := make([]DeviceInfo, 0, len(sources))
	for _, s := range sources {
		devices = append(devices, DeviceInfo{ID: s.ID(), Name: s.Name()})
	}
	return devices, nil
}

func (p *pulseBackend) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	return &pulseRecorder{
		client: p.client,
		device: device,
		config: config,
	}, nil
}

func (p *pulseBackend) Close() {
	p.client.Close()
}

type pulseRecorder struct {
	client   *pulse.Client
	device   *DeviceInfo
	config   CaptureConfig
	callback atomic.Pointer[DataCallback]

	mu     sync.Mutex
	stream *pulse.RecordStream
	stop   chan struct{}
	done   chan struct{}
}

func (r *pulseRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	writer := pulse.Int16Writer(func(buf []int16) (int, error) {
		if len(buf) == 0 {
			return 0, nil
		}
		cb := r.callback.Load()
		if cb == nil {
			return len(buf), nil
		}
		(*cb)(amplify(buf), uint32(len(buf)))
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(int(r.config.SampleRate)),
		pulse.RecordLatency(0.05),
		pulse.RecordRawOption(func(cr *proto.CreateRecordStream) {
			vol := uint32(proto.VolumeNorm) * 3
			cr.ChannelVolumes = proto.ChannelVolumes{vol}
		}),
	}
	if r.device != nil {
		if source, err := r.client.SourceByID(r.device.ID); err == nil && source != nil {
			opts = append(opts, pulse.RecordSource(source))
		}
	}

	stream, err := r.client.NewRecord(writer, opts...)
	if err != nil {
		return fmt.Errorf("pulse record: %w", err)
	}

	r.stream = stream
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		stream.Start()
		<-r.stop
		stream.Stop()
		stream.Close()
	}()

	return nil
}

func amplify(buf []int16) []byte {
	data := make([]byte, len(buf)*2)
	for i, s := range buf {
		v := int32(s) * captureGain
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(v)))
	}
	return data
}

func (r *pulseRecorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop == nil {
		return
	}
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.done
}

func (r *pulseRecorder) Close() {
	r.Stop()
}

func (r *pulseRecorder) SetCallback(cb DataCallback) {
	r.callback.Store(&cb)
}

func (r *pulseRecorder) ClearCallback() {
	r.callback.Store(nil)
}

func (r *pulseRecorder) DeviceName() string {
	if r.device != nil {
		return r.device.Name
	}
	return "system default"
}
