package audio

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCM16ToWAVHeader(t *testing.T) {
	pcm := make([]byte, 4801) // odd trailing byte is dropped
	wav := PCM16ToWAV(pcm, RealtimeSampleRate)

	require.Len(t, wav, 44+4800)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint32(RealtimeSampleRate), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(4800), binary.LittleEndian.Uint32(wav[40:44]))
}

func TestPCM16Duration(t *testing.T) {
	pcm := make([]byte, RealtimeSampleRate*2/2) // half a second
	assert.Equal(t, 500*time.Millisecond, PCM16Duration(pcm, RealtimeSampleRate))
	assert.Zero(t, PCM16Duration(pcm, 0))
}

func TestPCM16RMS(t *testing.T) {
	assert.Zero(t, PCM16RMS(make([]byte, 100)))

	loud := make([]byte, 4)
	binary.LittleEndian.PutUint16(loud[0:], uint16(0x7fff))
	binary.LittleEndian.PutUint16(loud[2:], uint16(0x7fff))
	assert.InDelta(t, 1.0, PCM16RMS(loud), 1e-6)
}
