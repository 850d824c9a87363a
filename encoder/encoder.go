package encoder

import (
	"encoding/binary"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

// MIMEType is the media type of the encoded output.
const MIMEType = "audio/flac"

// EncodePCM compresses raw little-endian 16-bit mono PCM into a complete
// FLAC stream. Capture paths accumulate PCM bytes and hand them off here
// before transport encoding.
func EncodePCM(pcm []byte) ([]byte, time.Duration, error) {
	enc, err := NewFlac()
	if err != nil {
		return nil, 0, err
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	start := time.Now()
	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		if err := enc.EncodeBlock(samples[i:end]); err != nil {
			return nil, 0, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, 0, err
	}
	return enc.Bytes(), time.Since(start), nil
}
