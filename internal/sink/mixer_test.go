package sink

import (
	"testing"
	"time"

	"github.com/netscream/audiorouter/internal/frame"
)

type fakeInput struct {
	chunk frame.Chunk
	ok    bool
}

func (f fakeInput) Next(time.Time) (frame.Chunk, bool) { return f.chunk, f.ok }

type deadlineMissInput struct{}

func (deadlineMissInput) Next(time.Time) (frame.Chunk, bool) { return frame.Chunk{}, false }

type recordingEgress struct {
	sent [][]byte
}

func (r *recordingEgress) Send(pcm []byte) {
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	r.sent = append(r.sent, cp)
}

func makeChunk(format frame.Format, sampleValue int16) frame.Chunk {
	var c frame.Chunk
	c.Format = format
	frames := frame.ChunkBytes / format.FrameBytes()
	for f := 0; f < frames; f++ {
		for ch := 0; ch < format.Channels; ch++ {
			off := (f*format.Channels + ch) * 2
			c.PCM[off] = byte(sampleValue)
			c.PCM[off+1] = byte(sampleValue >> 8)
		}
	}
	return c
}

func TestMixCycleSumsTwoInputs(t *testing.T) {
	format := frame.Format{SampleRate: 48000, BitDepth: 16, Channels: 2}
	m := New("sink1", format, nil, sinkTestLogger())

	m.AddInput("a", fakeInput{chunk: makeChunk(format, 1000), ok: true})
	m.AddInput("b", fakeInput{chunk: makeChunk(format, 2000), ok: true})

	eg := &recordingEgress{}
	m.AddEgress(eg)

	m.mixCycle()

	if len(eg.sent) != 1 {
		t.Fatalf("expected one emitted packet, got %d", len(eg.sent))
	}
	got := int16(uint16(eg.sent[0][0]) | uint16(eg.sent[0][1])<<8)
	if got != 3000 {
		t.Errorf("mixed sample = %d, want 3000", got)
	}
}

func TestMixCycleSuppressesSilence(t *testing.T) {
	format := frame.Format{SampleRate: 48000, BitDepth: 16, Channels: 2}
	m := New("sink1", format, nil, sinkTestLogger())
	m.AddInput("a", fakeInput{chunk: makeChunk(format, 0), ok: true})

	eg := &recordingEgress{}
	m.AddEgress(eg)
	m.mixCycle()

	if len(eg.sent) != 0 {
		t.Errorf("expected silent cycle to suppress emission, got %d packets", len(eg.sent))
	}
}

func TestMixCycleTreatsMissedDeadlineAsZero(t *testing.T) {
	format := frame.Format{SampleRate: 48000, BitDepth: 16, Channels: 2}
	m := New("sink1", format, nil, sinkTestLogger())
	m.AddInput("a", fakeInput{chunk: makeChunk(format, 1000), ok: true})
	m.AddInput("b", deadlineMissInput{})

	eg := &recordingEgress{}
	m.AddEgress(eg)
	m.mixCycle()

	if len(eg.sent) != 1 {
		t.Fatalf("expected one emitted packet, got %d", len(eg.sent))
	}
	got := int16(uint16(eg.sent[0][0]) | uint16(eg.sent[0][1])<<8)
	if got != 1000 {
		t.Errorf("mixed sample = %d, want 1000 (missed input treated as zero)", got)
	}
}

func TestMixCycleNoInputsEmitsNothing(t *testing.T) {
	format := frame.Format{SampleRate: 48000, BitDepth: 16, Channels: 2}
	m := New("sink1", format, nil, sinkTestLogger())
	eg := &recordingEgress{}
	m.AddEgress(eg)
	m.mixCycle()
	if len(eg.sent) != 0 {
		t.Errorf("expected no emission with zero inputs, got %d", len(eg.sent))
	}
}

func TestAddRemoveInputUpdatesCount(t *testing.T) {
	format := frame.Format{SampleRate: 48000, BitDepth: 16, Channels: 2}
	m := New("sink1", format, nil, sinkTestLogger())
	m.AddInput("a", fakeInput{})
	if m.InputCount() != 1 {
		t.Fatalf("InputCount = %d, want 1", m.InputCount())
	}
	m.RemoveInput("a")
	if m.InputCount() != 0 {
		t.Fatalf("InputCount = %d, want 0", m.InputCount())
	}
}

func TestIsSilentAllZero(t *testing.T) {
	codes := make([]int32, 100)
	if !isSilent(codes) {
		t.Error("all-zero codes should be silent")
	}
}

func TestIsSilentNonZeroOnlyBetweenSampledPositions(t *testing.T) {
	codes := make([]int32, 101) // last index 100; sampled positions are 0,25,50,75,100
	codes[10] = 12345
	if !isSilent(codes) {
		t.Error("non-zero sample outside the 5 sampled positions must still report silent")
	}
}

func TestIsSilentNonZeroAtSampledPosition(t *testing.T) {
	codes := make([]int32, 101)
	codes[50] = 1
	if isSilent(codes) {
		t.Error("non-zero sample at a sampled position must report non-silent")
	}
}

func TestIsSilentEmpty(t *testing.T) {
	if !isSilent(nil) {
		t.Error("empty codes should report silent")
	}
}

func TestPacketDurationMatchesFormat(t *testing.T) {
	format := frame.Format{SampleRate: 48000, BitDepth: 16, Channels: 2}
	m := New("sink1", format, nil, sinkTestLogger())
	frames := frame.ChunkBytes / format.FrameBytes()
	want := time.Duration(float64(frames) / float64(format.SampleRate) * float64(time.Second))
	if got := m.packetDuration(); got != want {
		t.Errorf("packetDuration = %v, want %v", got, want)
	}
}
