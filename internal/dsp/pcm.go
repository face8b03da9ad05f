package dsp

import "encoding/binary"

// DecodeInterleaved unpacks a little-endian PCM byte buffer at the given bit
// depth into normalized float64 samples in [-1,1], one entry per sample
// (interleaved across channels exactly as the buffer is laid out).
func DecodeInterleaved(pcm []byte, bitDepth int) []float64 {
	bytesPer := bitDepth / 8
	n := len(pcm) / bytesPer
	out := make([]float64, n)
	fullScale := float64(int64(1) << (bitDepth - 1))

	for i := 0; i < n; i++ {
		off := i * bytesPer
		var v int64
		switch bitDepth {
		case 16:
			v = int64(int16(binary.LittleEndian.Uint16(pcm[off:])))
		case 24:
			raw := uint32(pcm[off]) | uint32(pcm[off+1])<<8 | uint32(pcm[off+2])<<16
			if raw&0x800000 != 0 {
				raw |= 0xFF000000
			}
			v = int64(int32(raw))
		case 32:
			v = int64(int32(binary.LittleEndian.Uint32(pcm[off:])))
		}
		out[i] = float64(v) / fullScale
	}
	return out
}

// EncodeInterleaved packs normalized float64 samples back into a
// little-endian PCM byte buffer at the given bit depth using the supplied
// ditherer for requantization. The ditherer's state carries across calls,
// matching the pipeline's one-ditherer-per-output-channel-per-sink design.
func EncodeInterleaved(samples []float64, bitDepth int, dith *Ditherer) []byte {
	bytesPer := bitDepth / 8
	out := make([]byte, len(samples)*bytesPer)

	for i, x := range samples {
		code := dith.Quantize(x)
		off := i * bytesPer
		switch bitDepth {
		case 16:
			binary.LittleEndian.PutUint16(out[off:], uint16(int16(code)))
		case 24:
			u := uint32(int32(code))
			out[off] = byte(u)
			out[off+1] = byte(u >> 8)
			out[off+2] = byte(u >> 16)
		case 32:
			binary.LittleEndian.PutUint32(out[off:], uint32(int32(code)))
		}
	}
	return out
}
