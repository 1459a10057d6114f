// Package mock provides a scripted in-memory implementation of
// [transcode.Transcoder] for use in unit tests.
//
// Set the exported Result fields before use; inspect the Call* and Recorded*
// fields after. The mock is safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/rdiovox/pkg/transcode"
)

// Transcoder is a mock implementation of [transcode.Transcoder].
type Transcoder struct {
	mu sync.Mutex

	// NameResult is returned by [Transcoder.Name]. Defaults to "mock".
	NameResult string

	// NormalizeResult is returned by [Transcoder.Normalize]. When empty, the
	// input path is echoed back.
	NormalizeResult string

	// NormalizeError is returned by [Transcoder.Normalize].
	NormalizeError error

	// EncodeResult is returned by [Transcoder.Encode].
	EncodeResult transcode.Result

	// EncodeError is returned by [Transcoder.Encode].
	EncodeError error

	// CallCountNormalize records how many times Normalize was called.
	CallCountNormalize int

	// CallCountEncode records how many times Encode was called.
	CallCountEncode int

	// RecordedNormalize holds the paths passed to Normalize, in order.
	RecordedNormalize []string

	// RecordedEncode holds the paths passed to Encode, in order.
	RecordedEncode []string
}

// Name implements [transcode.Transcoder].
func (t *Transcoder) Name() string {
	if t.NameResult == "" {
		return "mock"
	}
	return t.NameResult
}

// Normalize implements [transcode.Transcoder].
func (t *Transcoder) Normalize(_ context.Context, wavPath string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountNormalize++
	t.RecordedNormalize = append(t.RecordedNormalize, wavPath)
	if t.NormalizeError != nil {
		return "", t.NormalizeError
	}
	if t.NormalizeResult == "" {
		return wavPath, nil
	}
	return t.NormalizeResult, nil
}

// Encode implements [transcode.Transcoder].
func (t *Transcoder) Encode(_ context.Context, wavPath string) (transcode.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountEncode++
	t.RecordedEncode = append(t.RecordedEncode, wavPath)
	if t.EncodeError != nil {
		return transcode.Result{}, t.EncodeError
	}
	return t.EncodeResult, nil
}

// Compile-time interface check.
var _ transcode.Transcoder = (*Transcoder)(nil)
