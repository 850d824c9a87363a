package encoder

import (
	"bytes"
	"fmt"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// FlacWriter streams fixed-size PCM blocks into an in-memory FLAC stream.
// Lossless on purpose: the forensic layers read micro-tremor and spectral
// detail that lossy codecs smear.
type FlacWriter struct {
	buf     bytes.Buffer
	enc     *flac.Encoder
	samples uint64
}

func NewFlac() (*FlacWriter, error) {
	w := &FlacWriter{}
	info := &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    SampleRate,
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
		NSamples:      0,
	}
	enc, err := flac.NewEncoder(&w.buf, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	w.enc = enc
	return w, nil
}

// EncodeBlock writes one mono PCM block; the final block may be short.
func (w *FlacWriter) EncodeBlock(block []int16) error {
	samples32 := make([]int32, len(block))
	for i, s := range block {
		samples32[i] = int32(s)
	}

	subframe := &frame.Subframe{
		SubHeader: frame.SubHeader{
			Pred: frame.PredVerbatim,
		},
		Samples:  samples32,
		NSamples: len(block),
	}

	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    SampleRate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{subframe},
	}

	if err := w.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	w.samples += uint64(len(block))
	return nil
}

func (w *FlacWriter) Close() error {
	return w.enc.Close()
}

func (w *FlacWriter) Bytes() []byte {
	return w.buf.Bytes()
}

// TotalSamples reports how many PCM samples have been written.
func (w *FlacWriter) TotalSamples() uint64 {
	return w.samples
}
