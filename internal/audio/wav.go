package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrNotWAV         = errors.New("audio: not a RIFF/WAVE stream")
	ErrUnsupportedWAV = errors.New("audio: unsupported wav encoding")
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for PCM data.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// EncodeWAV wraps raw little-endian PCM16 mono audio in a WAV container so
// browsers can play synthesized audio without knowing the sample rate.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	const channels = 1
	h := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * BytesPerSample),
		BlockAlign:    channels * BytesPerSample,
		BitsPerSample: BytesPerSample * 8,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	// Writes to a bytes.Buffer cannot fail.
	_ = binary.Write(&buf, binary.LittleEndian, h)
	buf.Write(pcm)
	return buf.Bytes()
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// DecodeWAV returns the PCM16 samples of a WAV stream as mono, averaging
// channels when there is more than one.
func DecodeWAV(data []byte) (pcm []byte, sampleRate int, err error) {
	if !IsWAV(data) {
		return nil, 0, ErrNotWAV
	}
	var (
		format    uint16
		channels  uint16
		bits      uint16
		haveFmt   bool
		dataChunk []byte
	)
	for rest := data[12:]; len(rest) >= 8; {
		id := string(rest[0:4])
		size := int(binary.LittleEndian.Uint32(rest[4:8]))
		rest = rest[8:]
		if size < 0 || size > len(rest) {
			return nil, 0, fmt.Errorf("%w: chunk %q overruns the stream", ErrNotWAV, id)
		}
		body := rest[:size]
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			format = binary.LittleEndian.Uint16(body[0:2])
			channels = binary.LittleEndian.Uint16(body[2:4])
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits = binary.LittleEndian.Uint16(body[14:16])
			haveFmt = true
		case "data":
			dataChunk = body
		}
		// Chunks are word aligned.
		size += size & 1
		if size > len(rest) {
			break
		}
		rest = rest[size:]
	}
	switch {
	case !haveFmt || dataChunk == nil:
		return nil, 0, fmt.Errorf("%w: missing fmt or data chunk", ErrNotWAV)
	case format != 1 || bits != 16 || channels == 0:
		return nil, 0, fmt.Errorf("%w: format=%d bits=%d channels=%d", ErrUnsupportedWAV, format, bits, channels)
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return downmix(dataChunk, int(channels)), sampleRate, nil
}

func downmix(interleaved []byte, channels int) []byte {
	frame := channels * BytesPerSample
	frames := len(interleaved) / frame
	if channels == 1 {
		return append([]byte(nil), interleaved[:frames*frame]...)
	}
	out := make([]byte, frames*BytesPerSample)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			off := i*frame + ch*BytesPerSample
			sum += int(int16(binary.LittleEndian.Uint16(interleaved[off:])))
		}
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(int16(sum/channels)))
	}
	return out
}
