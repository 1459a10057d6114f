package native

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/rdiovox/pkg/audio"
)

// parseOgg walks the page stream, validates each page's CRC, and reassembles
// the contained packets.
func parseOgg(t *testing.T, stream []byte) (packets [][]byte, lastGranule uint64) {
	t.Helper()
	var cur []byte
	off := 0
	for off < len(stream) {
		if off+27 > len(stream) || string(stream[off:off+4]) != "OggS" {
			t.Fatalf("bad page header at offset %d", off)
		}
		nseg := int(stream[off+26])
		end := off + 27 + nseg
		segs := stream[off+27 : end]
		for _, l := range segs {
			end += int(l)
		}
		if end > len(stream) {
			t.Fatalf("page at offset %d overruns stream", off)
		}

		page := make([]byte, end-off)
		copy(page, stream[off:end])
		stored := binary.LittleEndian.Uint32(page[22:])
		binary.LittleEndian.PutUint32(page[22:], 0)
		if got := oggCRC(page); got != stored {
			t.Fatalf("page at offset %d: crc = %08x, want %08x", off, got, stored)
		}

		lastGranule = binary.LittleEndian.Uint64(stream[off+6:])
		p := off + 27 + nseg
		for _, l := range segs {
			cur = append(cur, stream[p:p+int(l)]...)
			p += int(l)
			if l < 255 {
				packets = append(packets, cur)
				cur = nil
			}
		}
		off = end
	}
	return packets, lastGranule
}

func TestOggWriter_StreamStructure(t *testing.T) {
	t.Parallel()
	w := newOggWriter(42)
	w.writeOpusHead(1, 44100)
	w.writeOpusTags("test")
	audio1 := bytes.Repeat([]byte{0xAA}, 100)
	audio2 := bytes.Repeat([]byte{0xBB}, 300)
	w.appendAudio(audio1, 960, false)
	w.appendAudio(audio2, 1920, true)

	stream := w.bytes()
	if stream[5]&pageBOS == 0 {
		t.Error("first page is not marked beginning-of-stream")
	}

	packets, granule := parseOgg(t, stream)
	if len(packets) != 4 {
		t.Fatalf("got %d packets, want 4", len(packets))
	}
	if !bytes.HasPrefix(packets[0], []byte("OpusHead")) {
		t.Error("first packet is not OpusHead")
	}
	if !bytes.HasPrefix(packets[1], []byte("OpusTags")) {
		t.Error("second packet is not OpusTags")
	}
	if !bytes.Equal(packets[2], audio1) || !bytes.Equal(packets[3], audio2) {
		t.Error("audio packets corrupted by lacing")
	}
	if granule != 1920 {
		t.Errorf("final granule = %d, want 1920", granule)
	}
}

func TestOggWriter_MultiSegmentPacket(t *testing.T) {
	t.Parallel()
	w := newOggWriter(7)
	w.writeOpusHead(1, 48000)
	w.writeOpusTags("test")
	// 255*2+10 bytes needs three lacing values including a short terminator.
	big := bytes.Repeat([]byte{0xCC}, 520)
	w.appendAudio(big, 960, true)

	packets, _ := parseOgg(t, w.bytes())
	if len(packets) != 3 {
		t.Fatalf("got %d packets, want 3", len(packets))
	}
	if !bytes.Equal(packets[2], big) {
		t.Errorf("multi-segment packet reassembled to %d bytes, want %d", len(packets[2]), len(big))
	}
}

func TestCurveDB(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want float64
	}{
		{-100, -80}, // clamped below the first point
		{-80, -80},
		{-50, -10},
		{-25, -5}, // midpoint of the -50..0 segment
		{0, 0},
		{10, 10},
		{30, 20}, // clamped above the last point
	}
	for _, tt := range tests {
		if got := curveDB(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("curveDB(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCompand_LiftsQuietAudio(t *testing.T) {
	t.Parallel()
	// A constant -60 dB signal sits on the steep segment of the curve and
	// must come out far louder once the envelope settles.
	in := make([]float32, 8000)
	for i := range in {
		in[i] = 0.001
	}
	out := compand(in, 8000)

	tail := out[len(out)/2:]
	var sum float64
	for _, s := range tail {
		sum += float64(s)
	}
	mean := sum / float64(len(tail))
	if mean < 0.005 {
		t.Errorf("settled output level = %v, want at least 5x the input", mean)
	}
}

func TestTranscoder_Normalize(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	in := filepath.Join(dir, "session.wav")

	samples := make([]float32, 8000)
	for i := range samples {
		samples[i] = 0.05 * float32(math.Sin(2*math.Pi*440*float64(i)/8000))
	}
	if err := audio.WriteWAVFile(in, samples, 8000, 1); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}

	tr := New()
	outPath, err := tr.Normalize(context.Background(), in)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(outPath), "norm_") {
		t.Errorf("output name = %q, want norm_ prefix", filepath.Base(outPath))
	}

	out, rate, channels, err := audio.ReadWAVFile(outPath)
	if err != nil {
		t.Fatalf("ReadWAVFile: %v", err)
	}
	if rate != 8000 || channels != 1 {
		t.Errorf("format changed to %dHz/%dch", rate, channels)
	}
	if len(out) != len(samples) {
		t.Errorf("sample count changed: got %d, want %d", len(out), len(samples))
	}
	peak := audio.Peak(out)
	if peak < 0.80 || peak > 0.88 {
		t.Errorf("normalized peak = %v, want about %v", peak, targetPeak)
	}
}

func TestTranscoder_Encode(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	in := filepath.Join(dir, "session.wav")

	samples := make([]float32, 8000)
	for i := range samples {
		samples[i] = 0.5 * float32(math.Sin(2*math.Pi*440*float64(i)/8000))
	}
	if err := audio.WriteWAVFile(in, samples, 8000, 1); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}

	tr := New()
	res, err := tr.Encode(context.Background(), in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if res.Ext != ".ogg" || res.MIME != "audio/ogg" {
		t.Errorf("artifact type = %s/%s, want .ogg/audio/ogg", res.Ext, res.MIME)
	}
	packets, granule := parseOgg(t, res.Data)
	if len(packets) < 3 {
		t.Fatalf("got %d packets, want at least OpusHead, OpusTags and audio", len(packets))
	}
	if !bytes.HasPrefix(packets[0], []byte("OpusHead")) {
		t.Error("stream does not start with OpusHead")
	}
	// One second at 8 kHz resamples to 48000 samples, or 50 full frames.
	if want := uint64(50 * opusFrameSize); granule != want {
		t.Errorf("final granule = %d, want %d", granule, want)
	}
}

func TestTranscoder_EncodeCancelled(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	in := filepath.Join(dir, "session.wav")
	if err := audio.WriteWAVFile(in, make([]float32, 8000), 8000, 1); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Encode(ctx, in); err == nil {
		t.Error("expected error from cancelled context")
	}
}
