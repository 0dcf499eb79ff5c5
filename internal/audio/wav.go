package audio

import "encoding/binary"

const wavHeaderLen = 44

// PCM16ToWAV wraps little-endian mono 16-bit PCM in a WAV container.
func PCM16ToWAV(pcm []byte, sampleRate int) []byte {
	dataLen := len(pcm) &^ 1
	buf := make([]byte, wavHeaderLen+dataLen)
	writeHeader(buf, dataLen, sampleRate)
	copy(buf[wavHeaderLen:], pcm[:dataLen])
	return buf
}

func writeHeader(buf []byte, dataLen, sampleRate int) {
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(wavHeaderLen+dataLen-8))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                   // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
}
