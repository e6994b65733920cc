package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestFrameBufferSmallChunks(t *testing.T) {
	fb := NewFrameBuffer(8)
	var frames [][]byte
	for i := 0; i < 20; i++ {
		frames = append(frames, fb.Write([]byte{byte(i)})...)
	}
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if !bytes.Equal(frames[1], []byte{8, 9, 10, 11, 12, 13, 14, 15}) {
		t.Fatalf("frames[1] = %v", frames[1])
	}
	if fb.Buffered() != 4 {
		t.Fatalf("Buffered() = %d, want 4", fb.Buffered())
	}
	rest := fb.Flush()
	if !bytes.Equal(rest, []byte{16, 17, 18, 19}) {
		t.Fatalf("Flush() = %v", rest)
	}
	if fb.Flush() != nil {
		t.Fatalf("second Flush() should be empty")
	}
}

func TestFrameBufferFlushDropsHalfSample(t *testing.T) {
	fb := NewFrameBuffer(7) // rounded down to 6
	fb.Write([]byte{1, 2, 3})
	if got := fb.Flush(); !bytes.Equal(got, []byte{1, 2}) {
		t.Fatalf("Flush() = %v, want [1 2]", got)
	}
}

func TestFormatBytesFor(t *testing.T) {
	f := Format{SampleRate: 16000}
	if got := f.BytesFor(100 * time.Millisecond); got != 3200 {
		t.Fatalf("BytesFor(100ms) = %d, want 3200", got)
	}
	if got := (Format{}).Normalized(); got.SampleRate != DefaultSampleRate || got.Encoding != EncodingPCM16LE {
		t.Fatalf("Normalized() = %+v", got)
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	pcm := []byte{1, 0, 2, 0}
	wav := EncodeWAV(pcm, 24000)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if !IsWAV(wav) {
		t.Fatalf("IsWAV() = false")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 24000 {
		t.Fatalf("sample rate = %d, want 24000", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); size != 4 {
		t.Fatalf("data size = %d, want 4", size)
	}
	if IsWAV(pcm) {
		t.Fatalf("IsWAV(pcm) = true")
	}
}

func TestDecodeWAVRoundTrip(t *testing.T) {
	pcm := []byte{0x00, 0x00, 0xE8, 0x03, 0x18, 0xFC}
	got, rate, err := DecodeWAV(EncodeWAV(pcm, 16000))
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if rate != 16000 || !bytes.Equal(got, pcm) {
		t.Fatalf("DecodeWAV() = %v @%d, want %v @16000", got, rate, pcm)
	}
}

func TestDecodeWAVStereoDownmix(t *testing.T) {
	// Frame 1: L=1000, R=-1000 => 0. Frame 2: L=3000, R=1000 => 2000.
	stereo := []byte{0xE8, 0x03, 0x18, 0xFC, 0xB8, 0x0B, 0xE8, 0x03}
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+len(stereo)))
	b.WriteString("WAVEfmt ")
	fmtChunk := []any{uint32(16), uint16(1), uint16(2), uint32(24000), uint32(24000 * 4), uint16(4), uint16(16)}
	for _, field := range fmtChunk {
		if err := binary.Write(&b, binary.LittleEndian, field); err != nil {
			t.Fatalf("binary.Write(%T) error = %v", field, err)
		}
	}
	if b.Len() != 36 {
		t.Fatalf("header length = %d, want 36", b.Len())
	}
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(stereo)))
	b.Write(stereo)

	got, rate, err := DecodeWAV(b.Bytes())
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if rate != 24000 || len(got) != 4 {
		t.Fatalf("DecodeWAV() = %d bytes @%d", len(got), rate)
	}
	s1 := int16(binary.LittleEndian.Uint16(got[0:2]))
	s2 := int16(binary.LittleEndian.Uint16(got[2:4]))
	if s1 != 0 || s2 != 2000 {
		t.Fatalf("downmix = [%d %d], want [0 2000]", s1, s2)
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("not audio at all")); !errors.Is(err, ErrNotWAV) {
		t.Fatalf("DecodeWAV(garbage) error = %v, want ErrNotWAV", err)
	}
}
