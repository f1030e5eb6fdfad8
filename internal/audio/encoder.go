package audio

import "layeh.com/gopus"

const (
	SampleRate = 48000
	Channels   = 2
	// FrameSize is 20ms of audio per channel at 48kHz.
	FrameSize = 960

	frameBytes   = FrameSize * Channels * 2
	maxOpusBytes = 4000
)

// Encoder turns one frame of interleaved PCM samples into an Opus packet.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// OpusEncoder is a wrapper around the gopus.Encoder
type OpusEncoder struct {
	encoder *gopus.Encoder
}

// NewOpusEncoder constructs a new Gopus encoder set to 48kHz stereo
func NewOpusEncoder() (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, Channels, gopus.Audio)
	if err != nil {
		return nil, err
	}
	return &OpusEncoder{encoder: enc}, nil
}

func (oe *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	return oe.encoder.Encode(pcm, FrameSize, maxOpusBytes)
}

// scaleFrame converts little-endian s16 bytes into samples multiplied by
// volume, clipping at the int16 range.
func scaleFrame(dst []int16, raw []byte, volume float64) {
	for i := range dst {
		sample := int16(raw[2*i]) | int16(raw[2*i+1])<<8
		scaled := float64(sample) * volume
		switch {
		case scaled > 32767:
			dst[i] = 32767
		case scaled < -32768:
			dst[i] = -32768
		default:
			dst[i] = int16(scaled)
		}
	}
}
