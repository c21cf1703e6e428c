package audio

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type decodedPreview struct {
	info PreviewInfo
	buf  Buffer
}

func (d *decodedPreview) frames() int {
	return (len(d.buf.Samples) + FrameSamples - 1) / FrameSamples
}

// frame returns the 20ms frame at index i, zero-padded past the end.
func (d *decodedPreview) frame(i int) []int16 {
	start := i * FrameSamples
	end := start + FrameSamples
	if end <= len(d.buf.Samples) {
		return d.buf.Samples[start:end]
	}
	out := make([]int16, FrameSamples)
	if start < len(d.buf.Samples) {
		copy(out, d.buf.Samples[start:])
	}
	return out
}

// LoadFunc decodes a preview file into stereo PCM at SampleRate.
type LoadFunc func(ctx context.Context, path string) (Buffer, error)

// Pipeline loops the current preview mix at real-time rate. When a new
// render is loaded it crossfades into it at the same timeline position.
type Pipeline struct {
	renderCh chan PreviewInfo
	frameCh  chan []int16
	seekCh   chan time.Duration
	load     LoadFunc
	logger   zerolog.Logger

	mu            sync.RWMutex
	crossfadeDur  time.Duration
	current       PreviewInfo
	position      time.Duration
	duration      time.Duration
	loadedRenders int
}

// NewPipeline creates a preview pipeline with the given crossfade duration.
func NewPipeline(crossfadeDuration time.Duration, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		renderCh:     make(chan PreviewInfo, 4),
		frameCh:      make(chan []int16, 100),
		seekCh:       make(chan time.Duration, 1),
		crossfadeDur: crossfadeDuration,
		logger:       logger,
		load: func(ctx context.Context, path string) (Buffer, error) {
			return LoadFile(ctx, path, SampleRate, Channels)
		},
	}
}

// SetLoader replaces the decoder used for new renders.
func (p *Pipeline) SetLoader(fn LoadFunc) {
	p.load = fn
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (p *Pipeline) Frames() <-chan []int16 {
	return p.frameCh
}

// Load queues a freshly assembled preview. If the queue is full the oldest
// pending render is dropped, since only the newest mix matters.
func (p *Pipeline) Load(info PreviewInfo) {
	for {
		select {
		case p.renderCh <- info:
			return
		default:
		}
		select {
		case <-p.renderCh:
		default:
		}
	}
}

// QueueSize returns the number of renders waiting to be decoded.
func (p *Pipeline) QueueSize() int {
	return len(p.renderCh)
}

// Seek moves playback to the given timeline position.
func (p *Pipeline) Seek(at time.Duration) {
	select {
	case <-p.seekCh:
	default:
	}
	select {
	case p.seekCh <- at:
	default:
	}
}

// Status returns current playback info.
func (p *Pipeline) Status() (preview PreviewInfo, position, duration time.Duration) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, p.position, p.duration
}

// Renders returns how many previews have started playing.
func (p *Pipeline) Renders() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loadedRenders
}

// CrossfadeDuration returns the current crossfade length.
func (p *Pipeline) CrossfadeDuration() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.crossfadeDur
}

// SetCrossfade changes the crossfade used for the next render switch.
func (p *Pipeline) SetCrossfade(d time.Duration) {
	p.mu.Lock()
	p.crossfadeDur = d
	p.mu.Unlock()
}

// Run starts the pipeline. Blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	decodedCh := p.startDecoder(ctx)

	var cur, next *decodedPreview
	var pos, fade int

	for {
		if cur == nil {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-decodedCh:
				if !ok {
					return
				}
				cur, pos = d, 0
				p.setPreview(cur)
			}
			continue
		}

		if next == nil {
			select {
			case d, ok := <-decodedCh:
				if ok {
					next, fade = d, 0
				}
			default:
			}
		}

		select {
		case at := <-p.seekCh:
			pos = int(at / FrameDuration)
		default:
		}
		if pos < 0 || pos >= cur.frames() {
			pos = 0
		}

		frame := cur.frame(pos)
		if next != nil {
			cfFrames := int(p.CrossfadeDuration() / FrameDuration)
			if fade >= cfFrames {
				cur, next = next, nil
				p.setPreview(cur)
				p.logger.Info().Str("preview", cur.info.ID).Msg("crossfaded into new render")
				if pos >= cur.frames() {
					pos = 0
				}
				frame = cur.frame(pos)
			} else {
				frame = CrossfadeFrames(frame, next.frame(pos), float64(fade)/float64(cfFrames))
				fade++
			}
		}

		if !p.sendFrame(ctx, ticker, frame) {
			return
		}
		pos++
		p.updatePosition(pos)
	}
}

// startDecoder converts queued preview paths into decoded PCM.
func (p *Pipeline) startDecoder(ctx context.Context) <-chan *decodedPreview {
	decodedCh := make(chan *decodedPreview, 1)
	go func() {
		defer close(decodedCh)
		for {
			select {
			case <-ctx.Done():
				return
			case info := <-p.renderCh:
				buf, err := p.load(ctx, info.Path)
				if err != nil {
					p.logger.Warn().Err(err).Str("path", info.Path).Msg("decode preview failed")
					continue
				}
				select {
				case decodedCh <- &decodedPreview{info: info, buf: buf}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return decodedCh
}

// sendFrame waits for the ticker then sends a frame. Returns false on cancel.
func (p *Pipeline) sendFrame(ctx context.Context, ticker *time.Ticker, frame []int16) bool {
	select {
	case <-ctx.Done():
		return false
	case <-ticker.C:
	}

	select {
	case p.frameCh <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Pipeline) setPreview(d *decodedPreview) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = d.info
	p.duration = time.Duration(d.frames()) * FrameDuration
	p.loadedRenders++
}

func (p *Pipeline) updatePosition(frameIdx int) {
	p.mu.Lock()
	p.position = time.Duration(frameIdx) * FrameDuration
	p.mu.Unlock()
}
