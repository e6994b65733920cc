// Package audio holds small PCM helpers shared by the recognizer and
// synthesizer adapters.
package audio

import "time"

const (
	DefaultSampleRate = 16000
	BytesPerSample    = 2

	EncodingPCM16LE = "pcm_s16le"
)

// Format describes the raw audio a client streams to the recognizer.
type Format struct {
	SampleRate int
	Encoding   string
}

func (f Format) Normalized() Format {
	if f.SampleRate <= 0 {
		f.SampleRate = DefaultSampleRate
	}
	if f.Encoding == "" {
		f.Encoding = EncodingPCM16LE
	}
	return f
}

// BytesFor returns the PCM16 mono byte length covering d, rounded down to a
// whole sample.
func (f Format) BytesFor(d time.Duration) int {
	f = f.Normalized()
	n := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return n * BytesPerSample
}

// FrameBuffer accumulates arbitrarily sized chunks and hands out frames of a
// fixed byte size. It is not safe for concurrent use.
type FrameBuffer struct {
	frameBytes int
	pending    []byte
}

func NewFrameBuffer(frameBytes int) *FrameBuffer {
	if frameBytes < BytesPerSample {
		frameBytes = BytesPerSample
	}
	// Never split a sample across frames.
	frameBytes -= frameBytes % BytesPerSample
	return &FrameBuffer{frameBytes: frameBytes}
}

// Write appends chunk and returns every complete frame now available.
func (b *FrameBuffer) Write(chunk []byte) [][]byte {
	if len(chunk) == 0 {
		return nil
	}
	b.pending = append(b.pending, chunk...)
	var out [][]byte
	for len(b.pending) >= b.frameBytes {
		frame := make([]byte, b.frameBytes)
		copy(frame, b.pending[:b.frameBytes])
		out = append(out, frame)
		b.pending = b.pending[b.frameBytes:]
	}
	if len(b.pending) == 0 {
		b.pending = nil
	}
	return out
}

// Flush returns whatever is buffered (whole samples only) and resets.
func (b *FrameBuffer) Flush() []byte {
	n := len(b.pending) - len(b.pending)%BytesPerSample
	if n <= 0 {
		b.pending = nil
		return nil
	}
	out := make([]byte, n)
	copy(out, b.pending[:n])
	b.pending = nil
	return out
}

func (b *FrameBuffer) Buffered() int { return len(b.pending) }
