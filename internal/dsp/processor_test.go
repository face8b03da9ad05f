package dsp

import (
	"testing"

	"github.com/netscream/audiorouter/internal/frame"
)

func TestBypassPassthroughIsBitExact(t *testing.T) {
	f := frame.Format{SampleRate: 48000, BitDepth: 16, Channels: 2}
	p := NewAudioProcessor(f, f, 1)

	var in frame.Chunk
	in.SourceTag = "kitchen"
	for i := range in.PCM {
		in.PCM[i] = byte(i * 7)
	}

	out := p.Process(in)
	if out.PCM != in.PCM {
		t.Fatalf("bypass path must be bit-exact passthrough")
	}
	if out.SourceTag != in.SourceTag {
		t.Errorf("SourceTag = %q, want %q", out.SourceTag, in.SourceTag)
	}
}

func TestVolumeChangeInvalidatesBypass(t *testing.T) {
	f := frame.Format{SampleRate: 48000, BitDepth: 16, Channels: 2}
	p := NewAudioProcessor(f, f, 1)

	p.SetVolume(0.5)
	if p.bypassValid {
		t.Fatal("SetVolume must invalidate the cached bypass state")
	}

	var in frame.Chunk
	p.Process(in)
	if p.bypassActive {
		t.Fatal("processor with volume 0.5 must not be in bypass")
	}
}

func TestEqualizerFlatIsNoOpForBypass(t *testing.T) {
	f := frame.Format{SampleRate: 48000, BitDepth: 16, Channels: 2}
	p := NewAudioProcessor(f, f, 1)

	p.SetEqualizer(make([]float64, EQBands))
	p.recomputeBypass()
	if !p.bypassActive {
		t.Fatal("flat equalizer at unity volume and identity mix must remain bypass-eligible")
	}
}

func TestNonFlatEqualizerBreaksBypass(t *testing.T) {
	f := frame.Format{SampleRate: 48000, BitDepth: 16, Channels: 2}
	p := NewAudioProcessor(f, f, 1)

	gains := make([]float64, EQBands)
	gains[5] = 6.0
	p.SetEqualizer(gains)
	p.recomputeBypass()
	if p.bypassActive {
		t.Fatal("non-flat equalizer must disable bypass")
	}
}

func TestProcessProducesOutputFormatByteLength(t *testing.T) {
	in := frame.Format{SampleRate: 48000, BitDepth: 16, Channels: 2}
	out := frame.Format{SampleRate: 48000, BitDepth: 16, Channels: 2}
	p := NewAudioProcessor(in, out, 1)
	p.SetVolume(0.8) // force non-bypass

	var chunk frame.Chunk
	for i := range chunk.PCM {
		chunk.PCM[i] = byte(i)
	}
	result := p.Process(chunk)
	if len(result.PCM) != frame.ChunkBytes {
		t.Fatalf("output PCM length = %d, want %d", len(result.PCM), frame.ChunkBytes)
	}
}

func TestFormatChangeResetsDitherAndFilters(t *testing.T) {
	f1 := frame.Format{SampleRate: 48000, BitDepth: 16, Channels: 2}
	f2 := frame.Format{SampleRate: 48000, BitDepth: 24, Channels: 2}
	p := NewAudioProcessor(f1, f1, 1)
	p.SetVolume(0.8) // force non-bypass so dither and filter state builds up

	var chunk frame.Chunk
	for i := range chunk.PCM {
		chunk.PCM[i] = byte(i * 7)
	}
	p.Process(chunk)
	p.SetFormat(f1, f2)

	if p.bypassValid {
		t.Fatal("SetFormat must invalidate cached bypass state")
	}
	wantFullScale := float64(int64(1)<<23) - 1
	for ch, d := range p.ditherers {
		if d.fullScale != wantFullScale || d.prevError != 0 {
			t.Errorf("ditherer %d: fullScale=%v prevError=%v, want %v and 0", ch, d.fullScale, d.prevError, wantFullScale)
		}
	}
	for ch, b := range p.dcFilters {
		if b.x1 != 0 || b.x2 != 0 || b.y1 != 0 || b.y2 != 0 {
			t.Errorf("dc filter %d state not cleared by SetFormat", ch)
		}
	}
}
