package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/satindergrewal/cuemap/internal/fileutil"
)

// ErrInvalidWAV is returned when a file is not a readable PCM WAV.
var ErrInvalidWAV = errors.New("invalid wav file")

// WriteWAV encodes b as 16-bit PCM WAV.
func WriteWAV(w io.WriteSeeker, b Buffer) error {
	if b.Channels <= 0 || b.SampleRate <= 0 {
		return fmt.Errorf("write wav: channels=%d rate=%d", b.Channels, b.SampleRate)
	}
	enc := wav.NewEncoder(w, b.SampleRate, BitDepth, b.Channels, 1)

	data := make([]int, len(b.Samples))
	for i, s := range b.Samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: b.Channels, SampleRate: b.SampleRate},
		Data:           data,
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// WriteWAVFile writes b to path through a temporary file in the same
// directory, so a failed write never leaves a partial file at path.
func WriteWAVFile(path string, b Buffer) error {
	return fileutil.WriteAtomic(path, func(f *os.File) error {
		return WriteWAV(f, b)
	})
}

// ReadWAVFile decodes a PCM WAV file into 16-bit samples.
func ReadWAVFile(path string) (Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return Buffer{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return Buffer{}, fmt.Errorf("%s: %w", path, ErrInvalidWAV)
	}
	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("decode wav %s: %w", path, err)
	}

	depth := int(d.BitDepth)
	samples := make([]int16, len(pcm.Data))
	for i, v := range pcm.Data {
		samples[i] = toInt16(v, depth)
	}
	return Buffer{SampleRate: int(d.SampleRate), Channels: int(d.NumChans), Samples: samples}, nil
}

func toInt16(v, depth int) int16 {
	switch depth {
	case 8:
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	}
	return int16(v)
}
