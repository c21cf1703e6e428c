package audio

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

// --- Frame layout ---

func TestConstants(t *testing.T) {
	perFrame := int(int64(SampleRate) * int64(FrameDuration) / int64(time.Second))
	got := []int{FrameSize, FrameSamples, FrameBytes}
	want := []int{perFrame, perFrame * Channels, perFrame * Channels * 2}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frame layout (-want +got):\n%s", diff)
	}
}

// --- Smoothstep / CrossfadeFrames ---

func TestSmoothstepCurve(t *testing.T) {
	for _, tc := range []struct{ in, want float64 }{
		{-2, 0}, {0, 0}, {0.5, 0.5}, {1, 1}, {3, 1},
	} {
		if got := Smoothstep(tc.in); got != tc.want {
			t.Errorf("Smoothstep(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}

	last := 0.0
	for step := 1; step <= 50; step++ {
		x := float64(step) / 50
		v := Smoothstep(x)
		if v < last {
			t.Fatalf("Smoothstep decreases at %v", x)
		}
		last = v
		if mirror := Smoothstep(1 - x); math.Abs(v+mirror-1) > 1e-9 {
			t.Errorf("Smoothstep(%v) + Smoothstep(%v) = %v, want 1", x, 1-x, v+mirror)
		}
	}
}

func TestCrossfadeFrames(t *testing.T) {
	tests := []struct {
		name     string
		out, in  []int16
		progress float64
		want     []int16
	}{
		{"start keeps outgoing", []int16{1200, -800}, []int16{-5000, 5000}, 0, []int16{1200, -800}},
		{"end yields incoming", []int16{1200, -800}, []int16{-5000, 5000}, 1, []int16{-5000, 5000}},
		{"midpoint averages", []int16{1000, -1000}, []int16{3000, -3000}, 0.5, []int16{2000, -2000}},
		{"extremes stay in range", []int16{32767, -32768}, []int16{32767, -32768}, 0.5, []int16{32767, -32768}},
		{"short incoming is silence", []int16{4000, 4000}, []int16{4000}, 0.5, []int16{4000, 2000}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CrossfadeFrames(tc.out, tc.in, tc.progress)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("CrossfadeFrames mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// --- PCM bytes ---

func TestSamplesToBytes(t *testing.T) {
	got := SamplesToBytes([]int16{256, -1, 0x1234})
	want := []byte{0x00, 0x01, 0xff, 0xff, 0x34, 0x12}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("little-endian encoding (-want +got):\n%s", diff)
	}
}

func TestSamplesBytesRoundTrip(t *testing.T) {
	in := []int16{-32768, -6789, -1, 0, 1, 12345, 32767}
	raw := SamplesToBytes(in)
	if diff := cmp.Diff(in, BytesToSamples(raw)); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(in[:3], BytesToSamples(raw[:7])); diff != "" {
		t.Errorf("odd trailing byte (-want +got):\n%s", diff)
	}
}

// --- Buffer ---

func TestFramesForMS(t *testing.T) {
	tests := []struct {
		rate, ms, want int
	}{
		{48000, 1000, 48000},
		{48000, 500, 24000},
		{44100, 10, 441},
		{48000, -20, 0},
	}
	for _, tt := range tests {
		if got := FramesForMS(tt.rate, tt.ms); got != tt.want {
			t.Errorf("FramesForMS(%d, %d) = %d, want %d", tt.rate, tt.ms, got, tt.want)
		}
	}
}

func TestSilence(t *testing.T) {
	b := Silence(48000, 2, 480)
	if b.Frames() != 480 || len(b.Samples) != 960 {
		t.Errorf("Frames = %d samples = %d, want 480/960", b.Frames(), len(b.Samples))
	}
	if !b.IsSilent() {
		t.Error("Silence is not silent")
	}
	if b.DurationMS() != 10 {
		t.Errorf("DurationMS = %d, want 10", b.DurationMS())
	}
}

// --- Overlay ---

func TestOverlayAdditive(t *testing.T) {
	dst := Buffer{SampleRate: 8000, Channels: 1, Samples: []int16{100, 100, 100, 100}}
	src := Buffer{SampleRate: 8000, Channels: 1, Samples: []int16{10, 20}}
	if n := Overlay(&dst, src, 1); n != 2 {
		t.Errorf("Overlay frames = %d, want 2", n)
	}
	want := []int16{100, 110, 120, 100}
	for i, v := range want {
		if dst.Samples[i] != v {
			t.Errorf("sample[%d] = %d, want %d", i, dst.Samples[i], v)
		}
	}
}

func TestOverlayClipsAndTruncates(t *testing.T) {
	dst := Buffer{SampleRate: 8000, Channels: 1, Samples: []int16{30000, -30000}}
	src := Buffer{SampleRate: 8000, Channels: 1, Samples: []int16{10000, -10000, 5}}
	if n := Overlay(&dst, src, 0); n != 2 {
		t.Errorf("Overlay frames = %d, want 2", n)
	}
	if dst.Samples[0] != 32767 || dst.Samples[1] != -32768 {
		t.Errorf("clipped samples = %v, want [32767 -32768]", dst.Samples)
	}
}

func TestOverlayRejectsFormatMismatch(t *testing.T) {
	dst := Silence(8000, 2, 4)
	src := Buffer{SampleRate: 8000, Channels: 1, Samples: []int16{1, 1}}
	if n := Overlay(&dst, src, 0); n != 0 {
		t.Errorf("Overlay mismatched channels = %d, want 0", n)
	}
	if n := Overlay(&dst, Silence(8000, 2, 1), 9); n != 0 {
		t.Errorf("Overlay past end = %d, want 0", n)
	}
}

// --- Channel and rate conversion ---

func TestToChannels(t *testing.T) {
	mono := Buffer{SampleRate: 8000, Channels: 1, Samples: []int16{1, 2}}
	stereo := ToChannels(mono, 2)
	if got, want := stereo.Samples, []int16{1, 1, 2, 2}; !equalSamples(got, want) {
		t.Errorf("mono->stereo = %v, want %v", got, want)
	}

	back := ToChannels(Buffer{SampleRate: 8000, Channels: 2, Samples: []int16{100, 300, -100, -300}}, 1)
	if got, want := back.Samples, []int16{200, -200}; !equalSamples(got, want) {
		t.Errorf("stereo->mono = %v, want %v", got, want)
	}
}

func TestResample(t *testing.T) {
	b := Buffer{SampleRate: 24000, Channels: 1, Samples: make([]int16, 2400)}
	for i := range b.Samples {
		b.Samples[i] = 1000
	}
	up := Resample(b, 48000)
	if up.SampleRate != 48000 || up.Frames() != 4800 {
		t.Errorf("Resample rate = %d frames = %d, want 48000/4800", up.SampleRate, up.Frames())
	}
	for i, s := range up.Samples {
		if s != 1000 {
			t.Fatalf("sample[%d] = %d, want 1000 (constant signal)", i, s)
		}
	}
	if same := Resample(b, 24000); same.Frames() != b.Frames() {
		t.Errorf("Resample same rate changed length to %d", same.Frames())
	}
}

func TestFitFrames(t *testing.T) {
	b := Buffer{SampleRate: 8000, Channels: 2, Samples: []int16{1, 2, 3, 4}}
	if got := FitFrames(b, 3); got.Frames() != 3 || got.Samples[4] != 0 {
		t.Errorf("padded = %v", got.Samples)
	}
	if got := FitFrames(b, 1); got.Frames() != 1 || got.Samples[1] != 2 {
		t.Errorf("trimmed = %v", got.Samples)
	}
}

func TestSplitInterleave(t *testing.T) {
	b := Buffer{SampleRate: 8000, Channels: 2, Samples: []int16{1, -1, 2, -2}}
	parts := Split(b)
	if len(parts) != 2 || !equalSamples(parts[0].Samples, []int16{1, 2}) || !equalSamples(parts[1].Samples, []int16{-1, -2}) {
		t.Fatalf("Split = %+v", parts)
	}
	joined := Interleave(append(parts, Buffer{SampleRate: 8000, Channels: 1, Samples: []int16{9, 9}}))
	if joined.Channels != 3 || !equalSamples(joined.Samples, []int16{1, -1, 9, 2, -2, 9}) {
		t.Errorf("Interleave = %+v", joined)
	}
}

// --- WAV ---

func TestWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	b := Buffer{SampleRate: 48000, Channels: 5, Samples: make([]int16, 5*100)}
	for i := range b.Samples {
		b.Samples[i] = int16(i*37 - 5000)
	}
	if err := WriteWAVFile(path, b); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}
	got, err := ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile: %v", err)
	}
	if got.SampleRate != 48000 || got.Channels != 5 {
		t.Errorf("format = %d Hz / %d ch, want 48000 / 5", got.SampleRate, got.Channels)
	}
	if !equalSamples(got.Samples, b.Samples) {
		t.Error("samples differ after round trip")
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("output dir has %d entries, want only the wav", len(entries))
	}
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	os.WriteFile(path, []byte("not a wav"), 0o644)
	if _, err := ReadWAVFile(path); !errors.Is(err, ErrInvalidWAV) {
		t.Errorf("ReadWAVFile error = %v, want ErrInvalidWAV", err)
	}
}

func TestLoadFileConvertsWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	mono := Buffer{SampleRate: 24000, Channels: 1, Samples: make([]int16, 240)}
	if err := WriteWAVFile(path, mono); err != nil {
		t.Fatal(err)
	}
	got, err := LoadFile(context.Background(), path, 48000, 2)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got.SampleRate != 48000 || got.Channels != 2 || got.Frames() != 480 {
		t.Errorf("LoadFile = %d Hz %d ch %d frames, want 48000/2/480", got.SampleRate, got.Channels, got.Frames())
	}
}

func equalSamples(a, b []int16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- Pipeline ---

func TestNewPipeline(t *testing.T) {
	p := NewPipeline(2*time.Second, zerolog.Nop())
	if p == nil {
		t.Fatal("NewPipeline returned nil")
	}
	if p.CrossfadeDuration() != 2*time.Second {
		t.Errorf("CrossfadeDuration = %v, want 2s", p.CrossfadeDuration())
	}
	preview, pos, dur := p.Status()
	if preview.ID != "" || pos != 0 || dur != 0 {
		t.Errorf("Initial status should be zero-valued, got %v %v %v", preview, pos, dur)
	}
}

func TestPipelineLoadKeepsNewest(t *testing.T) {
	p := NewPipeline(0, zerolog.Nop())
	for i := 0; i < 10; i++ {
		p.Load(PreviewInfo{ID: string(rune('a' + i))})
	}
	if p.QueueSize() != cap(p.renderCh) {
		t.Errorf("QueueSize = %d, want %d", p.QueueSize(), cap(p.renderCh))
	}
	var last PreviewInfo
	for p.QueueSize() > 0 {
		last = <-p.renderCh
	}
	if last.ID != "j" {
		t.Errorf("newest queued = %q, want j", last.ID)
	}
}

func TestPipelineSeekNonBlocking(t *testing.T) {
	p := NewPipeline(0, zerolog.Nop())
	p.Seek(time.Second)
	p.Seek(2 * time.Second)
	if got := <-p.seekCh; got != 2*time.Second {
		t.Errorf("pending seek = %v, want 2s", got)
	}
}

func TestPipelinePlaysAndLoops(t *testing.T) {
	p := NewPipeline(0, zerolog.Nop())
	clip := Silence(SampleRate, Channels, FrameSize*2)
	clip.Samples[0] = 42
	p.SetLoader(func(ctx context.Context, path string) (Buffer, error) {
		return clip, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	p.Load(PreviewInfo{ID: "r1", Path: "preview.wav"})

	var firsts []int16
	for i := 0; i < 3; i++ {
		select {
		case f := <-p.Frames():
			if len(f) != FrameSamples {
				t.Fatalf("frame length = %d, want %d", len(f), FrameSamples)
			}
			firsts = append(firsts, f[0])
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frame")
		}
	}
	// Two-frame preview: frame 0, frame 1, then back to frame 0.
	if firsts[0] != 42 || firsts[1] != 0 || firsts[2] != 42 {
		t.Errorf("first samples = %v, want [42 0 42]", firsts)
	}
	if preview, _, dur := p.Status(); preview.ID != "r1" || dur != 2*FrameDuration {
		t.Errorf("Status = %v %v, want r1 %v", preview.ID, dur, 2*FrameDuration)
	}
}

// --- Envelope ---

func TestEnvelope(t *testing.T) {
	b := Silence(1000, 2, 100)
	for i := 0; i < 50; i++ {
		b.Samples[i*2+1] = -16384
	}
	env := Envelope(b, 4)
	want := []float64{0.5, 0.5, 0, 0}
	if len(env) != len(want) {
		t.Fatalf("len = %d, want %d", len(env), len(want))
	}
	for i := range want {
		if env[i] != want[i] {
			t.Errorf("env[%d] = %v, want %v", i, env[i], want[i])
		}
	}

	if got := Envelope(Silence(1000, 1, 3), 10); len(got) != 3 {
		t.Errorf("points capped at frames: len = %d, want 3", len(got))
	}
	if got := Envelope(Buffer{}, 10); got != nil {
		t.Errorf("empty buffer = %v, want nil", got)
	}
}
