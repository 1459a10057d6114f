// Package ffmpeg implements [transcode.Transcoder] by shelling out to an
// ffmpeg binary.
//
// Normalization and encoding mirror a proven radio-archival chain: a compand
// stage to tame squelch bursts, EBU R128 loudness normalization, then a
// maximum-quality libmp3lame encode with soxr resampling.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MrWong99/rdiovox/pkg/transcode"
)

const (
	// loudnormTarget is the loudness target shared by the analysis and
	// normalization passes: -16 LUFS integrated, 11 LU range, -1.5 dBTP peak.
	loudnormTarget = "loudnorm=I=-16:LRA=11:TP=-1.5"

	// compandFilter compresses dynamics ahead of loudness normalization so
	// brief squelch tails do not drag the integrated loudness down.
	compandFilter = "compand=attacks=0.02:decays=0.05:points=-80/-80|-50/-10|0/0|20/20"

	// encodeFilter resamples with soxr at high precision to 16-bit output
	// samples and applies the final level boost.
	encodeFilter = "aresample=resampler=soxr:precision=28:osf=s16,volume=3.0"
)

// Transcoder runs ffmpeg as a subprocess for each operation.
// Safe for concurrent use; every call spawns its own process.
type Transcoder struct {
	bin        string
	sampleRate int
}

// New locates the ffmpeg binary on PATH and returns a ready Transcoder.
// sampleRate is the output rate of the encode stage. Returns an error
// wrapping [transcode.ErrUnavailable] when no binary is found.
func New(sampleRate int) (*Transcoder, error) {
	bin, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transcode.ErrUnavailable, err)
	}
	return &Transcoder{bin: bin, sampleRate: sampleRate}, nil
}

// Name implements [transcode.Transcoder].
func (t *Transcoder) Name() string { return "ffmpeg" }

// Normalize implements [transcode.Transcoder]. An informational loudness
// analysis pass runs first; its failure is logged and ignored. The
// normalized copy is written next to the input as "norm_<name>".
func (t *Transcoder) Normalize(ctx context.Context, wavPath string) (string, error) {
	report, err := t.run(ctx,
		"-i", wavPath,
		"-af", loudnormTarget+":print_format=json",
		"-f", "null", "-",
	)
	if err != nil {
		slog.Debug("loudness analysis failed", "error", err)
	} else {
		slog.Debug("loudness analysis", "report", loudnormJSON(report))
	}

	outPath := filepath.Join(filepath.Dir(wavPath), "norm_"+filepath.Base(wavPath))
	if _, err := t.run(ctx,
		"-y",
		"-i", wavPath,
		"-af", compandFilter+","+loudnormTarget+",volume=3.0",
		outPath,
	); err != nil {
		return "", fmt.Errorf("ffmpeg: normalize: %w", err)
	}
	return outPath, nil
}

// Encode implements [transcode.Transcoder]. The MP3 is written next to the
// input, decode-verified, read into memory, and removed again.
func (t *Transcoder) Encode(ctx context.Context, wavPath string) (transcode.Result, error) {
	outPath := strings.TrimSuffix(wavPath, filepath.Ext(wavPath)) + ".mp3"
	defer os.Remove(outPath)

	if _, err := t.run(ctx,
		"-y",
		"-i", wavPath,
		"-codec:a", "libmp3lame",
		"-qscale:a", "0",
		"-ar", strconv.Itoa(t.sampleRate),
		"-ac", "1",
		"-af", encodeFilter,
		"-write_xing", "0",
		"-id3v2_version", "3",
		outPath,
	); err != nil {
		return transcode.Result{}, fmt.Errorf("ffmpeg: encode: %w", err)
	}

	// Decode-verify before shipping anything to the server.
	if _, err := t.run(ctx, "-v", "error", "-i", outPath, "-f", "null", "-"); err != nil {
		return transcode.Result{}, fmt.Errorf("ffmpeg: verify: %w", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return transcode.Result{}, fmt.Errorf("ffmpeg: read output: %w", err)
	}
	return transcode.Result{Data: data, Ext: ".mp3", MIME: "audio/mpeg"}, nil
}

// run executes ffmpeg with args and returns its stderr output, which is
// where ffmpeg writes both progress and filter reports.
func (t *Transcoder) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, t.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%v (stderr: %s)", err, truncate(stderr.String(), 512))
	}
	return stderr.String(), nil
}

// loudnormJSON extracts the JSON block loudnorm prints at the end of its
// analysis output. Returns the raw tail when no block is found.
func loudnormJSON(stderr string) string {
	if i := strings.LastIndex(stderr, "{"); i >= 0 {
		return strings.TrimSpace(stderr[i:])
	}
	return truncate(stderr, 256)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Compile-time interface check.
var _ transcode.Transcoder = (*Transcoder)(nil)
