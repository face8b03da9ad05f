package frame

import "testing"

func TestSampleRateRoundTrip(t *testing.T) {
	cases := []int{8000, 16000, 44100, 48000, 96000}
	for _, hz := range cases {
		b := EncodeSampleRate(hz)
		got := DecodeSampleRate(b)
		if got != hz {
			t.Errorf("rate %d: round trip gave %d (byte %d)", hz, got, b)
		}
	}
}

func TestScreamPacketRoundTrip(t *testing.T) {
	hdr := ScreamHeader{RateByte: EncodeSampleRate(48000), BitDepth: 16, Channels: 2, ChannelMask: 0x3}
	var pcm [ChunkBytes]byte
	for i := range pcm {
		pcm[i] = byte(i)
	}

	raw := BuildScreamPacket(hdr, pcm)
	if len(raw) != ScreamPacketBytes {
		t.Fatalf("built packet length = %d, want %d", len(raw), ScreamPacketBytes)
	}

	gotHdr, gotPCM, err := ParseScreamPacket(raw)
	if err != nil {
		t.Fatalf("ParseScreamPacket: %v", err)
	}
	if gotHdr != hdr {
		t.Errorf("header = %+v, want %+v", gotHdr, hdr)
	}
	if gotPCM != pcm {
		t.Errorf("pcm payload mismatch")
	}
}

func TestParseScreamPacketRejectsWrongLength(t *testing.T) {
	_, _, err := ParseScreamPacket(make([]byte, 10))
	if err == nil {
		t.Fatal("expected error for short packet")
	}
}

func TestRTPPacketRoundTrip(t *testing.T) {
	hdr := RTPHeader{PayloadType: RTPPayloadTypeScream, Sequence: 42, Timestamp: 123456, SSRC: 0xdeadbeef}
	var pcm [ChunkBytes]byte
	pcm[0] = 0xAB

	raw := BuildRTPPacket(hdr, pcm)
	if len(raw) != RTPPacketBytes {
		t.Fatalf("built packet length = %d, want %d", len(raw), RTPPacketBytes)
	}

	gotHdr, gotPCM, err := ParseRTPPacket(raw)
	if err != nil {
		t.Fatalf("ParseRTPPacket: %v", err)
	}
	if gotHdr != hdr {
		t.Errorf("header = %+v, want %+v", gotHdr, hdr)
	}
	if gotPCM != pcm {
		t.Errorf("pcm payload mismatch")
	}
}

func TestParseRTPPacketRejectsBadVersion(t *testing.T) {
	raw := make([]byte, RTPPacketBytes)
	raw[0] = 0x40 // version 1
	_, _, err := ParseRTPPacket(raw)
	if err == nil {
		t.Fatal("expected error for bad rtp version")
	}
}

func TestFormatHelpers(t *testing.T) {
	f := Format{SampleRate: 48000, BitDepth: 16, Channels: 2}
	if f.BytesPerSample() != 2 {
		t.Errorf("BytesPerSample = %d, want 2", f.BytesPerSample())
	}
	if f.FrameBytes() != 4 {
		t.Errorf("FrameBytes = %d, want 4", f.FrameBytes())
	}
	if !f.Equal(Format{SampleRate: 48000, BitDepth: 16, Channels: 2}) {
		t.Errorf("Equal should hold for identical formats")
	}
	if f.Equal(Format{SampleRate: 44100, BitDepth: 16, Channels: 2}) {
		t.Errorf("Equal should not hold for differing sample rates")
	}
}

func TestRTPTimestampDelta(t *testing.T) {
	f := Format{SampleRate: 48000, BitDepth: 16, Channels: 2}
	got := RTPTimestampDelta(f)
	want := uint32(ChunkBytes / 4)
	if got != want {
		t.Errorf("RTPTimestampDelta = %d, want %d", got, want)
	}
}
