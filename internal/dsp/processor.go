// Package dsp implements the per-source AudioProcessor kernel: the fixed
// pipeline of scale/align, volume+soft-clip, oversampled biquad filtering,
// speaker-mix remapping, and dithered requantization every source chunk
// passes through before reaching a sink mixer.
package dsp

import (
	"sync"

	"github.com/netscream/audiorouter/internal/frame"
)

const dcHighpassHz = 20.0
const dcHighpassQ = 0.707

// AudioProcessor holds the mutable DSP state for one source→sink audio
// path: volume, equalizer, and speaker-mix settings, plus the per-channel
// filter and dither state those settings drive. A single AudioProcessor is
// owned by one SourceInputProcessor path and is never shared across goroutines
// without the mutex below.
type AudioProcessor struct {
	mu sync.Mutex

	inFormat  frame.Format
	outFormat frame.Format

	volume     float64
	speakerMix SpeakerMatrix
	dcFilters  []Biquad
	eqs        []*Equalizer
	ditherers  []*Ditherer

	bypassValid  bool
	bypassActive bool

	ditherSeed int64
}

// NewAudioProcessor builds a processor converting inFormat chunks to
// outFormat chunks, starting at unity volume, flat EQ, and an identity
// speaker matrix (i.e. starting bypass-eligible whenever in==out format).
func NewAudioProcessor(in, out frame.Format, ditherSeed int64) *AudioProcessor {
	p := &AudioProcessor{
		volume:     1.0,
		ditherSeed: ditherSeed,
	}
	p.SetFormat(in, out)
	return p
}

// SetFormat reconfigures the processor for new input/output formats,
// rebuilding every per-channel filter, dither, and matrix. Per the bypass
// predicate contract, any format change invalidates the cached bypass state.
func (p *AudioProcessor) SetFormat(in, out frame.Format) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inFormat = in
	p.outFormat = out
	p.speakerMix = IdentityMatrix(out.Channels)
	if in.Channels != out.Channels {
		p.speakerMix = defaultUpDownMix(in.Channels, out.Channels)
	}

	p.dcFilters = make([]Biquad, out.Channels)
	p.eqs = make([]*Equalizer, out.Channels)
	p.ditherers = make([]*Ditherer, out.Channels)
	for ch := 0; ch < out.Channels; ch++ {
		p.dcFilters[ch] = NewHighpass(dcHighpassHz, dcHighpassQ, out.SampleRate*2)
		p.eqs[ch] = NewEqualizer(out.SampleRate * 2)
		p.ditherers[ch] = NewDitherer(out.BitDepth, p.ditherSeed+int64(ch))
	}
	p.bypassValid = false
}

// SetVolume updates the linear volume multiplier applied before soft-clip.
func (p *AudioProcessor) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
	p.bypassValid = false
}

// Volume returns the current linear volume multiplier.
func (p *AudioProcessor) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SetEqualizer updates the per-band gains (in dB), applied identically to
// every output channel.
func (p *AudioProcessor) SetEqualizer(gainsDB []float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, eq := range p.eqs {
		eq.SetGains(gainsDB)
	}
	p.bypassValid = false
}

// EqualizerGains returns the current per-band gains (all channels carry the
// same setting, so channel 0's is representative).
func (p *AudioProcessor) EqualizerGains() [EQBands]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.eqs) == 0 {
		return [EQBands]float64{}
	}
	return p.eqs[0].Gains()
}

// SetSpeakerMix replaces the speaker-mix gain matrix outright, overriding
// the default up/down-mix chosen by SetFormat.
func (p *AudioProcessor) SetSpeakerMix(m SpeakerMatrix) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speakerMix = m
	p.bypassValid = false
}

// recomputeBypass evaluates whether the current settings make this
// processor a pure passthrough. Caller must hold p.mu.
func (p *AudioProcessor) recomputeBypass() {
	active := p.volume == 1.0 &&
		p.inFormat.Equal(p.outFormat) &&
		p.speakerMix.IsIdentity() &&
		p.speakerMix.InChannels() == p.inFormat.Channels
	for _, eq := range p.eqs {
		if !eq.IsFlat() {
			active = false
			break
		}
	}
	p.bypassActive = active
	p.bypassValid = true
}

// Process runs one source chunk through the full pipeline, producing a new
// chunk in the processor's configured output format. The source chunk is
// never mutated.
func (p *AudioProcessor) Process(in frame.Chunk) frame.Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.bypassValid {
		p.recomputeBypass()
	}

	out := frame.Chunk{SourceTag: in.SourceTag, Format: p.outFormat}

	if p.bypassActive {
		out.PCM = in.PCM
		return out
	}

	interleaved := DecodeInterleaved(in.PCM[:], p.inFormat.BitDepth)
	inChannels := p.inFormat.Channels
	inFrames := len(interleaved) / inChannels

	perChannel := deinterleave(interleaved, inChannels, inFrames)
	for ch := range perChannel {
		for i, x := range perChannel[ch] {
			perChannel[ch][i] = ApplyVolume(x, p.volume)
		}
	}

	upsampled := make([][]float64, inChannels)
	for ch := range perChannel {
		upsampled[ch] = Upsample2x(perChannel[ch])
	}
	upFrames := inFrames * 2

	outChannels := p.speakerMix.OutChannels()
	mixed := make([][]float64, outChannels)
	for ch := range mixed {
		mixed[ch] = make([]float64, upFrames)
	}
	frameIn := make([]float64, inChannels)
	frameOut := make([]float64, outChannels)
	for f := 0; f < upFrames; f++ {
		for ch := 0; ch < inChannels; ch++ {
			frameIn[ch] = upsampled[ch][f]
		}
		p.speakerMix.Apply(frameIn, frameOut)
		for ch := 0; ch < outChannels; ch++ {
			mixed[ch][f] = frameOut[ch]
		}
	}

	for ch := 0; ch < outChannels; ch++ {
		for i, x := range mixed[ch] {
			x = p.dcFilters[ch].Process(x)
			x = p.eqs[ch].Process(x)
			mixed[ch][i] = x
		}
	}

	downsampled := make([][]float64, outChannels)
	for ch := range mixed {
		downsampled[ch] = Downsample2x(mixed[ch])
	}

	outFrames := frame.ChunkBytes / p.outFormat.FrameBytes()
	aligned := make([][]float64, outChannels)
	for ch := range downsampled {
		aligned[ch] = alignFrameCount(downsampled[ch], outFrames)
	}

	merged := interleaveChannels(aligned, outChannels, outFrames)

	pcm := make([]byte, 0, frame.ChunkBytes)
	for f := 0; f < outFrames; f++ {
		frameSamples := merged[f*outChannels : (f+1)*outChannels]
		encoded := encodeFrame(frameSamples, p.outFormat.BitDepth, p.ditherers)
		pcm = append(pcm, encoded...)
	}
	copy(out.PCM[:], pcm)
	return out
}

func encodeFrame(samples []float64, bitDepth int, ditherers []*Ditherer) []byte {
	bytesPer := bitDepth / 8
	out := make([]byte, len(samples)*bytesPer)
	for ch, x := range samples {
		code := ditherers[ch].Quantize(x)
		off := ch * bytesPer
		packCode(out[off:off+bytesPer], code, bitDepth)
	}
	return out
}

func packCode(dst []byte, code int64, bitDepth int) {
	switch bitDepth {
	case 16:
		v := uint16(int16(code))
		dst[0] = byte(v)
		dst[1] = byte(v >> 8)
	case 24:
		u := uint32(int32(code))
		dst[0] = byte(u)
		dst[1] = byte(u >> 8)
		dst[2] = byte(u >> 16)
	case 32:
		u := uint32(int32(code))
		dst[0] = byte(u)
		dst[1] = byte(u >> 8)
		dst[2] = byte(u >> 16)
		dst[3] = byte(u >> 24)
	}
}

func deinterleave(samples []float64, channels, frames int) [][]float64 {
	out := make([][]float64, channels)
	for ch := range out {
		out[ch] = make([]float64, frames)
	}
	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			out[ch][f] = samples[f*channels+ch]
		}
	}
	return out
}

func interleaveChannels(perChannel [][]float64, channels, frames int) []float64 {
	out := make([]float64, frames*channels)
	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			out[f*channels+ch] = perChannel[ch][f]
		}
	}
	return out
}

// alignFrameCount linearly resamples a single channel's samples to exactly
// wantFrames entries. Needed because a fixed-size wire chunk packs a
// different frame count depending on bit depth and channel count, so a
// format change that alters either can leave the processed frame count out
// of step with what the target format's chunk byte budget holds.
func alignFrameCount(in []float64, wantFrames int) []float64 {
	if len(in) == wantFrames {
		return in
	}
	if len(in) == 0 || wantFrames == 0 {
		return make([]float64, wantFrames)
	}
	out := make([]float64, wantFrames)
	ratio := float64(len(in)-1) / float64(maxInt(wantFrames-1, 1))
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		out[i] = in[idx] + frac*(in[idx+1]-in[idx])
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Channel index convention for the fixed multichannel layouts below:
// quad is FL,FR,BL,BR; 5.1 and 7.1 are FL,FR,C,LFE,BL,BR[,SL,SR].
const (
	chFL = iota
	chFR
	chC
	chLFE
	chBL
	chBR
	chSL
	chSR
)

// defaultUpDownMix builds the default speaker-mix matrix for a
// channel-count change. Mono sources are duplicated to every output
// channel at unity gain. Stereo sources expanding to quad/5.1/7.1 use the
// fixed per-output-channel gain tables (5.1 bit-exact per the documented
// mapping; quad and 7.1 extend the same front/surround/center/LFE
// pattern). Any N→1 downmix uses equal 1/N gains. Callers that need a
// different layout call SetSpeakerMix explicitly.
func defaultUpDownMix(inChannels, outChannels int) SpeakerMatrix {
	if inChannels == 1 {
		m := make(SpeakerMatrix, outChannels)
		for i := range m {
			m[i] = []float64{1.0}
		}
		return m
	}
	if outChannels == 1 {
		gain := 1.0 / float64(inChannels)
		row := make([]float64, inChannels)
		for j := range row {
			row[j] = gain
		}
		return SpeakerMatrix{row}
	}
	if inChannels == 2 {
		if m := stereoUpmix(outChannels); m != nil {
			return m
		}
	}

	gain := 1.0 / float64(inChannels)
	m := make(SpeakerMatrix, outChannels)
	for i := range m {
		row := make([]float64, inChannels)
		for j := range row {
			row[j] = gain
		}
		m[i] = row
	}
	return m
}

// stereoUpmix returns the fixed stereo→multichannel gain table for quad,
// 5.1, and 7.1 output layouts, or nil if outChannels isn't one of those.
func stereoUpmix(outChannels int) SpeakerMatrix {
	row := func(l, r float64) []float64 { return []float64{l, r} }
	switch outChannels {
	case 4: // quad: FL,FR,BL,BR
		m := make(SpeakerMatrix, 4)
		m[chFL] = row(1.0, 0)
		m[chFR] = row(0, 1.0)
		m[2] = row(1.0, 0) // BL sits at index 2 in quad, not chBL
		m[3] = row(0, 1.0) // BR sits at index 3 in quad, not chBR
		return m
	case 6: // 5.1: FL,FR,C,LFE,BL,BR
		m := make(SpeakerMatrix, 6)
		m[chFL] = row(1.0, 0)
		m[chFR] = row(0, 1.0)
		m[chC] = row(0.5, 0.5)
		m[chLFE] = row(0.5, 0.5)
		m[chBL] = row(1.0, 0)
		m[chBR] = row(0, 1.0)
		return m
	case 8: // 7.1: FL,FR,C,LFE,BL,BR,SL,SR
		m := make(SpeakerMatrix, 8)
		m[chFL] = row(1.0, 0)
		m[chFR] = row(0, 1.0)
		m[chC] = row(0.5, 0.5)
		m[chLFE] = row(0.5, 0.5)
		m[chBL] = row(1.0, 0)
		m[chBR] = row(0, 1.0)
		m[chSL] = row(1.0, 0)
		m[chSR] = row(0, 1.0)
		return m
	default:
		return nil
	}
}
