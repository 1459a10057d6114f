package audio

import (
	"fmt"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAVFile quantizes samples to 16-bit PCM and writes them to path as a
// WAV file with the given rate and channel count.
func WriteWAVFile(path string, samples []float32, sampleRate, channels int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create wav: %w", err)
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		data[i] = int(int16(v * 32767))
	}

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		_ = f.Close()
		return fmt.Errorf("audio: write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("audio: finalize wav: %w", err)
	}
	return f.Close()
}

// ReadWAVFile reads a PCM WAV file and returns its samples scaled to
// [-1, 1] along with the stream format.
func ReadWAVFile(path string) (samples []float32, sampleRate, channels int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("audio: open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("audio: decode wav: %w", err)
	}
	if buf.Format == nil {
		return nil, 0, 0, fmt.Errorf("audio: decode wav: missing format")
	}

	bits := buf.SourceBitDepth
	if bits <= 0 {
		bits = 16
	}
	scale := float32(int64(1) << (bits - 1))

	samples = make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}
	return samples, buf.Format.SampleRate, buf.Format.NumChannels, nil
}
