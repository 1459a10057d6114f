// Package native implements [transcode.Transcoder] entirely in-process:
// pure-Go dynamics shaping for Normalize and an Opus encode wrapped in an
// Ogg container for Encode. It needs no external tooling, which makes it the
// fallback when an ffmpeg binary is missing or failing.
package native

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"

	"layeh.com/gopus"

	"github.com/MrWong99/rdiovox/pkg/audio"
	"github.com/MrWong99/rdiovox/pkg/transcode"
)

// Opus operates at 48 kHz; recordings are downmixed to mono and resampled
// before encoding. 20 ms frames keep packets inside one page segment.
const (
	opusSampleRate  = 48000
	opusChannels    = 1
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per 20 ms mono frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
	opusMaxBytes  = opusFrameSize * 2
)

// Envelope follower time constants, matching the compand stage of the
// external chain.
const (
	attackSeconds = 0.02
	decaySeconds  = 0.05
)

// targetPeak leaves the -1.5 dB true-peak headroom the loudness target asks
// for: 10^(-1.5/20).
const targetPeak = 0.8414

// compandCurve maps input level to output level in dB. Quiet material is
// lifted hard (-50 dB in becomes -10 dB out) while loud material passes
// through, which flattens squelch-gated radio audio.
var compandCurve = [][2]float64{
	{-80, -80},
	{-50, -10},
	{0, 0},
	{20, 20},
}

// Transcoder is the in-process implementation. Safe for concurrent use;
// each call owns its state.
type Transcoder struct{}

// New returns a ready in-process transcoder.
func New() *Transcoder { return &Transcoder{} }

// Name implements [transcode.Transcoder].
func (t *Transcoder) Name() string { return "native" }

// Normalize implements [transcode.Transcoder]. It applies the compand curve
// with an attack/decay envelope follower, then scales the result to the
// target peak. The output is written next to the input as "norm_<name>".
func (t *Transcoder) Normalize(ctx context.Context, wavPath string) (string, error) {
	samples, rate, channels, err := audio.ReadWAVFile(wavPath)
	if err != nil {
		return "", fmt.Errorf("native: normalize: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	shaped := compand(samples, rate)
	if peak := audio.Peak(shaped); peak > 0 {
		gain := float32(targetPeak / peak)
		for i := range shaped {
			shaped[i] *= gain
		}
	}

	outPath := filepath.Join(filepath.Dir(wavPath), "norm_"+filepath.Base(wavPath))
	if err := audio.WriteWAVFile(outPath, shaped, rate, channels); err != nil {
		return "", fmt.Errorf("native: normalize: %w", err)
	}
	return outPath, nil
}

// Encode implements [transcode.Transcoder]. The WAV is downmixed to mono,
// resampled to 48 kHz and Opus-encoded into an Ogg stream.
func (t *Transcoder) Encode(ctx context.Context, wavPath string) (transcode.Result, error) {
	samples, rate, channels, err := audio.ReadWAVFile(wavPath)
	if err != nil {
		return transcode.Result{}, fmt.Errorf("native: encode: %w", err)
	}
	if len(samples) == 0 {
		return transcode.Result{}, fmt.Errorf("native: encode: no samples in %s", wavPath)
	}

	pcm := audio.PCM16Bytes(samples)
	switch channels {
	case 1:
	case 2:
		pcm = audio.StereoToMono(pcm)
	default:
		return transcode.Result{}, fmt.Errorf("native: encode: unsupported channel count %d", channels)
	}
	pcm = audio.ResampleMono16(pcm, rate, opusSampleRate)

	mono := make([]int16, len(pcm)/2)
	for i := range mono {
		mono[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}

	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return transcode.Result{}, fmt.Errorf("native: create opus encoder: %w", err)
	}

	w := newOggWriter(rand.Uint32())
	w.writeOpusHead(opusChannels, uint32(rate))
	w.writeOpusTags("rdiovox")

	frame := make([]int16, opusFrameSize)
	var granule uint64
	for off := 0; off < len(mono); off += opusFrameSize {
		if err := ctx.Err(); err != nil {
			return transcode.Result{}, err
		}
		n := copy(frame, mono[off:])
		for i := n; i < opusFrameSize; i++ {
			frame[i] = 0
		}
		pkt, err := enc.Encode(frame, opusFrameSize, opusMaxBytes)
		if err != nil {
			return transcode.Result{}, fmt.Errorf("native: opus encode: %w", err)
		}
		granule += opusFrameSize
		w.appendAudio(pkt, granule, off+opusFrameSize >= len(mono))
	}

	return transcode.Result{Data: w.bytes(), Ext: ".ogg", MIME: "audio/ogg"}, nil
}

// compand runs a per-sample envelope follower and applies the gain the curve
// prescribes for the current envelope level.
func compand(samples []float32, sampleRate int) []float32 {
	attack := math.Exp(-1 / (attackSeconds * float64(sampleRate)))
	decay := math.Exp(-1 / (decaySeconds * float64(sampleRate)))

	out := make([]float32, len(samples))
	var env float64
	for i, s := range samples {
		a := math.Abs(float64(s))
		if a > env {
			env = attack*env + (1-attack)*a
		} else {
			env = decay*env + (1-decay)*a
		}

		gain := 1.0
		if env > 1e-9 {
			inDB := 20 * math.Log10(env)
			gain = math.Pow(10, (curveDB(inDB)-inDB)/20)
		}
		out[i] = float32(float64(s) * gain)
	}
	return out
}

// curveDB interpolates the compand curve, clamping outside its end points.
func curveDB(inDB float64) float64 {
	pts := compandCurve
	if inDB <= pts[0][0] {
		return pts[0][1]
	}
	for i := 1; i < len(pts); i++ {
		if inDB <= pts[i][0] {
			span := pts[i][0] - pts[i-1][0]
			frac := (inDB - pts[i-1][0]) / span
			return pts[i-1][1] + frac*(pts[i][1]-pts[i-1][1])
		}
	}
	return pts[len(pts)-1][1]
}

// Compile-time interface check.
var _ transcode.Transcoder = (*Transcoder)(nil)
