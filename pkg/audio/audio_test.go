package audio

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	// 16 kHz mono 16-bit: 32000 bytes per second.
	if got := Duration(32000, 16000, 1); got != time.Second {
		t.Errorf("Duration(32000) = %v, want %v", got, time.Second)
	}
	if got := Duration(16000, 16000, 1); got != 500*time.Millisecond {
		t.Errorf("Duration(16000) = %v, want %v", got, 500*time.Millisecond)
	}
	if got := Duration(100, 0, 1); got != 0 {
		t.Errorf("Duration with zero rate = %v, want 0", got)
	}
}

func TestBytesFor(t *testing.T) {
	if got := BytesFor(2*time.Second, 16000, 1); got != 64000 {
		t.Errorf("BytesFor(2s) = %d, want 64000", got)
	}
	if got := BytesFor(500*time.Millisecond, 16000, 1); got != 16000 {
		t.Errorf("BytesFor(0.5s) = %d, want 16000", got)
	}
	// Result must be sample-aligned.
	if got := BytesFor(time.Millisecond/3, 16000, 1); got%2 != 0 {
		t.Errorf("BytesFor returned unaligned byte count %d", got)
	}
}

func TestStereoToMono(t *testing.T) {
	// One stereo frame: L=100, R=200 → mono 150.
	stereo := Int16sToBytes([]int16{100, 200})
	mono := BytesToInt16s(StereoToMono(stereo))
	if len(mono) != 1 || mono[0] != 150 {
		t.Errorf("StereoToMono = %v, want [150]", mono)
	}
}

func TestResampleMono16(t *testing.T) {
	in := Int16sToBytes(make([]int16, 480)) // 10 ms at 48 kHz
	out := ResampleMono16(in, 48000, 16000)
	if len(out) != 320 { // 160 samples at 16 kHz
		t.Errorf("resampled length = %d, want 320", len(out))
	}
	// Identity when rates match.
	if got := ResampleMono16(in, 16000, 16000); len(got) != len(in) {
		t.Errorf("identity resample changed length: %d != %d", len(got), len(in))
	}
}

func TestWAVRoundTrip(t *testing.T) {
	pcm := Int16sToBytes([]int16{0, 1000, -1000, 32767, -32768})
	wav := EncodeWAV(pcm, 16000, 1)

	got, rate, ch, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 16000 || ch != 1 {
		t.Errorf("DecodeWAV format = %dHz/%dch, want 16000Hz/1ch", rate, ch)
	}
	if string(got) != string(pcm) {
		t.Error("DecodeWAV payload does not match input PCM")
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, _, err := DecodeWAV([]byte("definitely not a wav file here")); err == nil {
		t.Error("DecodeWAV accepted garbage input")
	}
}

func TestRMS(t *testing.T) {
	silence := make([]byte, 640)
	if got := RMS(silence); got != 0 {
		t.Errorf("RMS(silence) = %v, want 0", got)
	}
	loud := Int16sToBytes([]int16{10000, -10000, 10000, -10000})
	if got := RMS(loud); got < 9999 || got > 10001 {
		t.Errorf("RMS(square wave) = %v, want ~10000", got)
	}
}
