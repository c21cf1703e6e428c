package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// DecodeFile runs FFmpeg to decode an audio file to raw PCM int16 samples,
// resampled to rate and mixed to the given channel count.
func DecodeFile(ctx context.Context, path string, rate, channels int) (Buffer, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(rate),
		"-ac", strconv.Itoa(channels),
		"-loglevel", "error",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return Buffer{}, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}

	return Buffer{SampleRate: rate, Channels: channels, Samples: BytesToSamples(out)}, nil
}

// LoadFile reads any audio file into a buffer at rate with the given channel
// count. WAV files are parsed in-process; other formats go through FFmpeg.
func LoadFile(ctx context.Context, path string, rate, channels int) (Buffer, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		b, err := ReadWAVFile(path)
		if err != nil {
			return Buffer{}, err
		}
		return Resample(ToChannels(b, channels), rate), nil
	}
	return DecodeFile(ctx, path, rate, channels)
}

// BytesToSamples converts little-endian bytes to int16 samples.
func BytesToSamples(raw []byte) []int16 {
	// Ensure even byte count for int16 alignment
	if len(raw)%2 != 0 {
		raw = raw[:len(raw)-1]
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// ProbeDurationMS asks ffprobe for the duration of a media file.
func ProbeDurationMS(ctx context.Context, path string) (int, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: parse duration %q: %w", path, strings.TrimSpace(string(out)), err)
	}
	return int(secs * 1000), nil
}
