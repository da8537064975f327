// Package audio implements the capture pipeline and playback scheduler
// for the realtime voice session: 16-bit signed PCM, mono, encoded as
// base64 for the websocket transport.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

const bytesPerSample = 2

// EncodeFrame packs samples as little-endian PCM16 and base64-encodes
// the result for transport.
func EncodeFrame(samples []int16) string {
	pcm := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*bytesPerSample:], uint16(s))
	}
	return base64.StdEncoding.EncodeToString(pcm)
}

// EncodePCM base64-encodes raw little-endian PCM16 bytes.
func EncodePCM(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeFrame reverses EncodeFrame.
func DecodeFrame(encoded string) ([]int16, error) {
	pcm, err := DecodePCM(encoded)
	if err != nil {
		return nil, err
	}
	samples := make([]int16, len(pcm)/bytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:]))
	}
	return samples, nil
}

// DecodePCM base64-decodes a frame back to raw PCM16 bytes.
func DecodePCM(encoded string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode audio frame: %w", err)
	}
	if len(pcm)%bytesPerSample != 0 {
		return nil, fmt.Errorf("audio frame has odd byte length %d", len(pcm))
	}
	return pcm, nil
}

// PCMDuration returns the playback duration of raw PCM16 mono bytes at
// the given sample rate.
func PCMDuration(byteLen, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := byteLen / bytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
