// Package frame defines the on-wire layout of Scream and RTP payload-type-127
// audio packets and the chunk size shared by every component downstream of
// ingress.
package frame

import (
	"encoding/binary"
	"fmt"
)

const (
	// ChunkBytes is the size in bytes of one audio chunk's PCM payload, fixed
	// by the Scream protocol regardless of the format's bit depth or channels.
	ChunkBytes = 1152

	// ScreamHeaderBytes is the size of the Scream packet header.
	ScreamHeaderBytes = 5

	// ScreamPacketBytes is the total size of one Scream UDP packet.
	ScreamPacketBytes = ScreamHeaderBytes + ChunkBytes

	// RTPHeaderBytes is the size of a minimal (no CSRC, no extension) RTP header.
	RTPHeaderBytes = 12

	// RTPPacketBytes is the total size of one payload-type-127 RTP packet
	// carrying one Scream-sized chunk.
	RTPPacketBytes = RTPHeaderBytes + ChunkBytes

	// RTPPayloadTypeScream is the dynamic RTP payload type carrying raw
	// Scream-format PCM, per the ingress/egress contract.
	RTPPayloadTypeScream = 127
)

// Format describes the PCM format carried by a chunk: sample rate, bit
// depth, and channel count. It is derived from the Scream header on
// ingress and carried alongside every chunk through the pipeline.
type Format struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// BytesPerSample returns the storage width of one sample in this format.
func (f Format) BytesPerSample() int {
	return f.BitDepth / 8
}

// FrameBytes returns the width of one interleaved sample-frame (all channels).
func (f Format) FrameBytes() int {
	return f.BytesPerSample() * f.Channels
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dbit/%dch", f.SampleRate, f.BitDepth, f.Channels)
}

// Equal reports whether two formats describe the same PCM layout.
func (f Format) Equal(o Format) bool {
	return f.SampleRate == o.SampleRate && f.BitDepth == o.BitDepth && f.Channels == o.Channels
}

// Chunk is one decoded unit of audio moving through the pipeline: a fixed
// 1152-byte PCM payload tagged with the format it was received in and the
// source tag it arrived under.
type Chunk struct {
	SourceTag string
	Format    Format
	PCM       [ChunkBytes]byte
}

// ScreamHeader is the 5-byte header prefixed to every Scream UDP packet.
//
// Byte 0: sample rate encoding (see DecodeSampleRate).
// Byte 1: bit depth (16, 24, or 32).
// Byte 2: channel count.
// Bytes 3-4: channel layout mask (little-endian), mirroring the WAVEFORMATEX
// speaker mask convention.
type ScreamHeader struct {
	RateByte    byte
	BitDepth    byte
	Channels    byte
	ChannelMask uint16
}

// DecodeSampleRate converts the Scream rate byte into Hz: values >= 128
// encode (value-128)*1000, values < 128 encode value*1000 directly.
func DecodeSampleRate(b byte) int {
	if b >= 128 {
		return (int(b) - 128) * 1000
	}
	return int(b) * 1000
}

// EncodeSampleRate is the inverse of DecodeSampleRate, clamped to the
// representable range.
func EncodeSampleRate(hz int) byte {
	if hz >= 128000 {
		hz = 127000
	}
	if hz%1000 == 0 && hz/1000 < 128 {
		return byte(hz / 1000)
	}
	return byte(hz/1000) + 128
}

// ParseScreamPacket decodes a raw Scream UDP datagram into a header and PCM
// payload. It returns an error for any packet that is not exactly
// ScreamPacketBytes long; callers treat a parse error as a malformed packet
// to be counted and dropped, never propagated up as a fatal error.
func ParseScreamPacket(raw []byte) (ScreamHeader, [ChunkBytes]byte, error) {
	var hdr ScreamHeader
	var pcm [ChunkBytes]byte
	if len(raw) != ScreamPacketBytes {
		return hdr, pcm, fmt.Errorf("frame: scream packet has %d bytes, want %d", len(raw), ScreamPacketBytes)
	}
	hdr.RateByte = raw[0]
	hdr.BitDepth = raw[1]
	hdr.Channels = raw[2]
	hdr.ChannelMask = binary.LittleEndian.Uint16(raw[3:5])
	copy(pcm[:], raw[ScreamHeaderBytes:])
	return hdr, pcm, nil
}

// BuildScreamPacket serializes a header and PCM payload into a wire-format
// Scream UDP datagram.
func BuildScreamPacket(hdr ScreamHeader, pcm [ChunkBytes]byte) []byte {
	out := make([]byte, ScreamPacketBytes)
	out[0] = hdr.RateByte
	out[1] = hdr.BitDepth
	out[2] = hdr.Channels
	binary.LittleEndian.PutUint16(out[3:5], hdr.ChannelMask)
	copy(out[ScreamHeaderBytes:], pcm[:])
	return out
}

// HeaderForFormat builds the Scream header fields matching a Format, using
// the standard stereo/5.1/7.1 speaker masks for the given channel count and
// falling back to a sequential low-bit mask for anything else.
func HeaderForFormat(f Format) ScreamHeader {
	return ScreamHeader{
		RateByte:    EncodeSampleRate(f.SampleRate),
		BitDepth:    byte(f.BitDepth),
		Channels:    byte(f.Channels),
		ChannelMask: speakerMask(byte(f.Channels)),
	}
}

// FormatFromHeader recovers a Format from a parsed Scream header.
func FormatFromHeader(hdr ScreamHeader) Format {
	return Format{
		SampleRate: DecodeSampleRate(hdr.RateByte),
		BitDepth:   int(hdr.BitDepth),
		Channels:   int(hdr.Channels),
	}
}

func speakerMask(channels byte) uint16 {
	switch channels {
	case 1:
		return 0x0004 // FC
	case 2:
		return 0x0003 // FL | FR
	case 6:
		return 0x003F // 5.1
	case 8:
		return 0x063F // 7.1
	default:
		if channels == 0 || channels > 16 {
			return 0
		}
		return uint16(1<<channels) - 1
	}
}

// RTPHeader is the subset of RTP header fields the egress/ingress paths
// need; CSRC lists and extension headers are never produced or accepted.
type RTPHeader struct {
	PayloadType byte
	Sequence    uint16
	Timestamp   uint32
	SSRC        uint32
}

// ParseRTPPacket decodes a raw RTP datagram carrying a Scream-sized PCM
// payload. Like ParseScreamPacket, a decode error is a malformed-packet
// condition, not a fatal one.
func ParseRTPPacket(raw []byte) (RTPHeader, [ChunkBytes]byte, error) {
	var hdr RTPHeader
	var pcm [ChunkBytes]byte
	if len(raw) != RTPPacketBytes {
		return hdr, pcm, fmt.Errorf("frame: rtp packet has %d bytes, want %d", len(raw), RTPPacketBytes)
	}
	version := raw[0] >> 6
	if version != 2 {
		return hdr, pcm, fmt.Errorf("frame: rtp version %d unsupported", version)
	}
	hdr.PayloadType = raw[1] & 0x7F
	hdr.Sequence = binary.BigEndian.Uint16(raw[2:4])
	hdr.Timestamp = binary.BigEndian.Uint32(raw[4:8])
	hdr.SSRC = binary.BigEndian.Uint32(raw[8:12])
	copy(pcm[:], raw[RTPHeaderBytes:])
	return hdr, pcm, nil
}

// BuildRTPPacket serializes an RTP header and PCM payload into a wire-format
// datagram. The marker bit and CSRC count are always zero.
func BuildRTPPacket(hdr RTPHeader, pcm [ChunkBytes]byte) []byte {
	out := make([]byte, RTPPacketBytes)
	out[0] = 0x80 // version 2, no padding, no extension, no CSRC
	out[1] = hdr.PayloadType & 0x7F
	binary.BigEndian.PutUint16(out[2:4], hdr.Sequence)
	binary.BigEndian.PutUint32(out[4:8], hdr.Timestamp)
	binary.BigEndian.PutUint32(out[8:12], hdr.SSRC)
	copy(out[RTPHeaderBytes:], pcm[:])
	return out
}

// RTPTimestampDelta returns the number of RTP clock ticks one chunk spans at
// the given sample rate: ChunkBytes/FrameBytes sample-frames at SampleRate Hz.
func RTPTimestampDelta(f Format) uint32 {
	frameBytes := f.FrameBytes()
	if frameBytes == 0 {
		return 0
	}
	return uint32(ChunkBytes / frameBytes)
}
