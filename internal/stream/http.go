package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/cuemap/internal/audio"
)

// EncoderFunc starts an encoder reading PCM on stdin and writing the
// encoded stream on stdout.
type EncoderFunc func(ctx context.Context) *exec.Cmd

// FFmpegMP3 encodes 48kHz stereo s16le PCM to MP3 at bitrate kbps.
func FFmpegMP3(bitrate int) EncoderFunc {
	return func(ctx context.Context) *exec.Cmd {
		return exec.CommandContext(ctx, "ffmpeg",
			"-f", "s16le",
			"-ar", strconv.Itoa(audio.SampleRate),
			"-ac", strconv.Itoa(audio.Channels),
			"-i", "pipe:0",
			"-codec:a", "libmp3lame",
			"-b:a", strconv.Itoa(bitrate)+"k",
			"-f", "mp3",
			"-fflags", "nobuffer",
			"-flush_packets", "1",
			"-loglevel", "error",
			"pipe:1",
		)
	}
}

// HTTPHandler serves the preview as a chunked MP3 stream. Every
// connection runs its own encoder process.
type HTTPHandler struct {
	broadcaster *Broadcaster
	encoder     EncoderFunc
	logger      zerolog.Logger
}

func NewHTTPHandler(b *Broadcaster, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{broadcaster: b, encoder: FFmpegMP3(192), logger: logger}
}

// SetEncoder replaces the encoder command.
func (h *HTTPHandler) SetEncoder(fn EncoderFunc) {
	h.encoder = fn
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fw, ok := newFlushWriter(w)
	if !ok {
		http.Error(w, "response cannot be flushed", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := h.encoder(ctx)
	pcm, err := cmd.StdinPipe()
	if err != nil {
		h.fail(w, err, http.StatusInternalServerError)
		return
	}
	encoded, err := cmd.StdoutPipe()
	if err != nil {
		h.fail(w, err, http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		h.fail(w, err, http.StatusServiceUnavailable)
		return
	}
	defer func() {
		cancel()
		_ = cmd.Wait()
	}()

	hdr := w.Header()
	hdr.Set("Content-Type", "audio/mpeg")
	hdr.Set("Cache-Control", "no-cache, no-store")
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("ICY-Name", "cuemap audition")

	l := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(l)
	log := h.logger.With().Str("remote", r.RemoteAddr).Logger()
	log.Info().Int("listeners", h.broadcaster.ListenerCount()).Msg("http listener connected")

	go h.feed(ctx, l, pcm)

	n, err := io.Copy(fw, encoded)
	if err != nil && ctx.Err() == nil && !errors.Is(err, io.EOF) {
		log.Warn().Err(err).Msg("stream copy")
	}
	log.Info().Int64("bytes", n).Msg("http listener disconnected")
}

func (h *HTTPHandler) fail(w http.ResponseWriter, err error, status int) {
	h.logger.Error().Err(err).Msg("start encoder")
	http.Error(w, "encoder unavailable", status)
}

// feed writes broadcast frames to the encoder as raw PCM until the request
// ends or the listener is dropped, then closes the encoder's input.
func (h *HTTPHandler) feed(ctx context.Context, l *Listener, pcm io.WriteCloser) {
	defer pcm.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.Done():
			return
		case frame, ok := <-l.C:
			if !ok {
				return
			}
			if _, err := pcm.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
		}
	}
}

// flushWriter pushes every write to the client immediately.
type flushWriter struct {
	w io.Writer
	f http.Flusher
}

func newFlushWriter(w http.ResponseWriter) (flushWriter, bool) {
	f, ok := w.(http.Flusher)
	return flushWriter{w: w, f: f}, ok
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if n > 0 {
		fw.f.Flush()
	}
	return n, err
}
