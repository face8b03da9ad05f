// Package mp3enc wraps the LAME encoder (github.com/viert/lame) behind a
// small per-sink Encoder type, the MP3 side-stream's "LAME's interleaved
// int encoder" contract.
package mp3enc

import (
	"fmt"

	"github.com/viert/lame"

	"github.com/netscream/audiorouter/internal/dsp"
	"github.com/netscream/audiorouter/internal/frame"
)

// CBRBitrateKbps is the fixed constant bitrate used for every sink's MP3
// side-stream.
const CBRBitrateKbps = 192

// Encoder wraps one LAME encoder instance configured for a sink's output
// format. It is not safe for concurrent use; the mixer's single mix
// goroutine is its only caller.
type Encoder struct {
	lame   *lame.Encoder
	format frame.Format
}

// New builds an encoder targeting the given PCM format. Mono and stereo
// sources are supported directly; higher channel counts are downmixed to
// stereo before encoding since MP3 has no native multichannel container
// this side-stream needs to support.
func New(format frame.Format) (*Encoder, error) {
	enc := lame.NewEncoder()
	if enc == nil {
		return nil, fmt.Errorf("mp3enc: lame.NewEncoder returned nil")
	}

	channels := format.Channels
	if channels > 2 {
		channels = 2
	}

	if err := enc.SetInSamplerate(format.SampleRate); err != nil {
		return nil, fmt.Errorf("mp3enc: SetInSamplerate: %w", err)
	}
	if err := enc.SetNumChannels(channels); err != nil {
		return nil, fmt.Errorf("mp3enc: SetNumChannels: %w", err)
	}
	if err := enc.SetBrate(CBRBitrateKbps); err != nil {
		return nil, fmt.Errorf("mp3enc: SetBrate: %w", err)
	}
	if err := enc.SetQuality(2); err != nil {
		return nil, fmt.Errorf("mp3enc: SetQuality: %w", err)
	}
	if err := enc.InitParams(); err != nil {
		return nil, fmt.Errorf("mp3enc: InitParams: %w", err)
	}

	return &Encoder{lame: enc, format: format}, nil
}

// Encode converts one chunk of little-endian PCM (at the format passed to
// New) into its MP3 encoding. A multichannel source is downmixed to stereo
// first via the speaker-mix matrix helper already used by the DSP kernel.
func (e *Encoder) Encode(pcm []byte) ([]byte, error) {
	input := pcm
	if e.format.Channels > 2 {
		input = downmixToStereo(pcm, e.format)
	}

	out, err := e.lame.Encode(input)
	if err != nil {
		return nil, fmt.Errorf("mp3enc: encode: %w", err)
	}
	return out, nil
}

// Flush drains any buffered samples LAME has not yet emitted as MP3 frames,
// called once when a sink's side-stream is torn down.
func (e *Encoder) Flush() ([]byte, error) {
	out, err := e.lame.Flush()
	if err != nil {
		return nil, fmt.Errorf("mp3enc: flush: %w", err)
	}
	return out, nil
}

// Close releases the underlying LAME encoder state.
func (e *Encoder) Close() error {
	return e.lame.Close()
}

func downmixToStereo(pcm []byte, format frame.Format) []byte {
	samples := dsp.DecodeInterleaved(pcm, format.BitDepth)
	frames := len(samples) / format.Channels

	matrix := make(dsp.SpeakerMatrix, 2)
	gain := 1.0 / float64(format.Channels)
	for i := range matrix {
		row := make([]float64, format.Channels)
		for j := range row {
			row[j] = gain
		}
		matrix[i] = row
	}

	out := make([]float64, frames*2)
	in := make([]float64, format.Channels)
	o := make([]float64, 2)
	for f := 0; f < frames; f++ {
		copy(in, samples[f*format.Channels:(f+1)*format.Channels])
		matrix.Apply(in, o)
		out[f*2] = o[0]
		out[f*2+1] = o[1]
	}

	dither := dsp.NewDitherer(format.BitDepth, 1)
	return dsp.EncodeInterleaved(out, format.BitDepth, dither)
}
