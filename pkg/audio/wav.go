package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// EncodeWAV wraps raw PCM data in a standard RIFF/WAV container. The result
// is suitable for batch inference uploads and for audio_response payloads
// when the client asked for a container format.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)      // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV extracts the PCM payload, sample rate, and channel count from a
// RIFF/WAV container. Only uncompressed 16-bit PCM is accepted; anything else
// returns an error.
func DecodeWAV(wav []byte) (pcm []byte, sampleRate, channels int, err error) {
	if len(wav) < 44 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, 0, errors.New("audio: not a RIFF/WAVE file")
	}

	// Walk sub-chunks; fmt and data may be preceded by metadata chunks.
	var haveFmt bool
	pos := 12
	for pos+8 <= len(wav) {
		id := string(wav[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(wav) {
			size = len(wav) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, errors.New("audio: short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(wav[body : body+2])
			channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(wav[body+14 : body+16])
			if format != 1 || bits != bitsPerSample {
				return nil, 0, 0, fmt.Errorf("audio: unsupported WAV encoding (format %d, %d bits)", format, bits)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, 0, errors.New("audio: data chunk before fmt chunk")
			}
			return wav[body : body+size], sampleRate, channels, nil
		}

		// Chunks are word-aligned.
		pos = body + size + size%2
	}

	return nil, 0, 0, errors.New("audio: no data chunk found")
}
