package audio

import "encoding/binary"

// PCMToFloat32 converts 16-bit signed little-endian PCM to float32 samples
// normalised to [-1.0, 1.0). A trailing odd byte is ignored.
func PCMToFloat32(pcm []byte) []float32 {
	n := len(pcm) / bytesPerSample
	samples := make([]float32, n)
	for i := range n {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return samples
}

// PCMToFloat64 is the float64 variant of [PCMToFloat32].
func PCMToFloat64(pcm []byte) []float64 {
	n := len(pcm) / bytesPerSample
	samples := make([]float64, n)
	for i := range n {
		samples[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return samples
}

// Float32ToPCM converts normalised samples back to 16-bit little-endian PCM,
// truncating toward zero and clamping out-of-range values.
func Float32ToPCM(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToSample(float64(v))))
	}
	return out
}

// Int16sToPCM converts int16 samples to little-endian bytes.
func Int16sToPCM(samples []int16) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// PCMToInt16s converts little-endian bytes to int16 samples.
func PCMToInt16s(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/bytesPerSample)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}
