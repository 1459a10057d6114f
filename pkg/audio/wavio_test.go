package audio_test

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/MrWong99/rdiovox/pkg/audio"
)

func TestWAVFile_RoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "roundtrip.wav")

	in := make([]float32, 4410)
	for i := range in {
		in[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 44100))
	}
	if err := audio.WriteWAVFile(path, in, 44100, 1); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}

	out, rate, channels, err := audio.ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile: %v", err)
	}
	if rate != 44100 || channels != 1 {
		t.Errorf("format = %dHz/%dch, want 44100Hz/1ch", rate, channels)
	}
	if len(out) != len(in) {
		t.Fatalf("sample count = %d, want %d", len(out), len(in))
	}
	// Quantization to 16 bits loses at most one step of precision.
	for i := range in {
		if math.Abs(float64(out[i]-in[i])) > 2.0/32768 {
			t.Fatalf("sample %d: got %v, want %v", i, out[i], in[i])
		}
	}
}

func TestWAVFile_PreservesOrder(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ramp.wav")

	in := make([]float32, 1000)
	for i := range in {
		in[i] = float32(i) / float32(len(in))
	}
	if err := audio.WriteWAVFile(path, in, 8000, 1); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}
	out, _, _, err := audio.ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile: %v", err)
	}
	for i := 1; i < len(out); i++ {
		if out[i] < out[i-1] {
			t.Fatalf("ordering broken at sample %d: %v < %v", i, out[i], out[i-1])
		}
	}
}

func TestWAVFile_ClampsOutOfRange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "clamp.wav")

	if err := audio.WriteWAVFile(path, []float32{3, -3, 0}, 8000, 1); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}
	out, _, _, err := audio.ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile: %v", err)
	}
	if out[0] < 0.99 || out[1] > -0.99 {
		t.Errorf("clamping failed: got %v, %v", out[0], out[1])
	}
}

func TestReadWAVFile_Missing(t *testing.T) {
	t.Parallel()
	if _, _, _, err := audio.ReadWAVFile(filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Error("expected error for missing file")
	}
}
