// Package transcode defines the capability interface for turning an
// intermediate WAV recording into a compressed upload payload.
//
// A [Transcoder] provides two independent operations:
//
//   - Normalize rewrites a WAV into a loudness-normalized WAV.
//   - Encode compresses a WAV into the final lossy artifact.
//
// Implementations live in subpackages: transcode/ffmpeg shells out to an
// ffmpeg binary, transcode/native runs entirely in-process. The pipeline
// treats them interchangeably and may fall from one to the next when an
// implementation is unavailable or failing.
package transcode

import (
	"context"
	"errors"
)

// ErrUnavailable reports that a transcoder cannot run in this environment,
// e.g. its external binary is not installed.
var ErrUnavailable = errors.New("transcode: implementation unavailable")

// Result is the output of [Transcoder.Encode].
type Result struct {
	// Data is the complete encoded payload.
	Data []byte

	// Ext is the file extension including the dot, e.g. ".mp3".
	Ext string

	// MIME is the media type of Data, e.g. "audio/mpeg".
	MIME string
}

// Transcoder converts intermediate WAV files into compressed audio.
//
// Implementations must be safe for concurrent use. Both methods honor
// context cancellation.
type Transcoder interface {
	// Name identifies the implementation in logs and configuration.
	Name() string

	// Normalize rewrites the WAV at wavPath into a loudness-normalized WAV
	// in the same directory and returns the new file's path. The input file
	// is left in place; the caller owns cleanup of both.
	Normalize(ctx context.Context, wavPath string) (string, error)

	// Encode compresses the WAV at wavPath into the final artifact payload.
	Encode(ctx context.Context, wavPath string) (Result, error)
}
