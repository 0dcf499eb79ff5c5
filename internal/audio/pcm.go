package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// RealtimeSampleRate is the rate of pcm16 audio exchanged with the browser
// and the realtime conversation provider.
const RealtimeSampleRate = 24000

// PCM16Duration returns the playback length of mono 16-bit PCM.
func PCM16Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// PCM16RMS returns the root-mean-square level of the samples in [0,1].
func PCM16RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / math.MaxInt16
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
