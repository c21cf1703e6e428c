// Package elevenlabs is a small client for the ElevenLabs sound effect,
// voice and music endpoints.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL          = "https://api.elevenlabs.io"
	DefaultVoiceID          = "21m00Tcm4TlvDq8ikWAM"
	DefaultVoiceDesignModel = "eleven_multilingual_ttv_v2"
	DefaultTTSModel         = "eleven_multilingual_v2"
	DefaultOutputFormat     = "mp3_44100_128"
	DefaultPromptInfluence  = 0.3
)

var (
	ErrNoAPIKey   = errors.New("elevenlabs: api key not configured")
	ErrEmptyAudio = errors.New("elevenlabs: no audio data received")
	ErrNoPreviews = errors.New("elevenlabs: voice design returned no previews")
)

const maxErrorBody = 512

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("elevenlabs: HTTP %d: %s", e.StatusCode, e.Body)
}

// Options tunes generation requests. Zero values take the defaults.
type Options struct {
	VoiceDesignModel string
	TTSModel         string
	DefaultVoiceID   string
	OutputFormat     string
	PromptInfluence  float64
	Timeout          time.Duration
}

func (o *Options) setDefaults() {
	if o.VoiceDesignModel == "" {
		o.VoiceDesignModel = DefaultVoiceDesignModel
	}
	if o.TTSModel == "" {
		o.TTSModel = DefaultTTSModel
	}
	if o.DefaultVoiceID == "" {
		o.DefaultVoiceID = DefaultVoiceID
	}
	if o.OutputFormat == "" {
		o.OutputFormat = DefaultOutputFormat
	}
	if o.PromptInfluence == 0 {
		o.PromptInfluence = DefaultPromptInfluence
	}
	if o.Timeout <= 0 {
		o.Timeout = 120 * time.Second
	}
}

// Client talks to the ElevenLabs REST API.
type Client struct {
	baseURL string
	apiKey  string
	opts    Options
	http    *http.Client
	logger  zerolog.Logger
	now     func() time.Time
}

// NewClient creates an API client.
func NewClient(baseURL, apiKey string, opts Options, logger zerolog.Logger) *Client {
	opts.setDefaults()
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		opts:    opts,
		http:    &http.Client{Timeout: opts.Timeout},
		logger:  logger,
		now:     time.Now,
	}
}

// Result is one generated clip.
type Result struct {
	Audio       []byte
	ContentType string
	AssetID     string
}

// CheckConnection verifies the key by listing voices.
func (c *Client) CheckConnection(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/v1/voices", nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

type soundRequest struct {
	Text            string   `json:"text"`
	DurationSeconds *float64 `json:"duration_seconds"`
	PromptInfluence float64  `json:"prompt_influence"`
}

// SoundEffect generates a sound effect from a description. The service
// picks the duration.
func (c *Client) SoundEffect(ctx context.Context, description string) (*Result, error) {
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("sfx: %w", errDescriptionRequired)
	}
	c.logger.Info().Str("kind", "sfx").Str("prompt", truncate(description, 50)).Msg("generating")
	res, err := c.audio(ctx, "/v1/sound-generation", nil, soundRequest{
		Text:            description,
		PromptInfluence: c.opts.PromptInfluence,
	})
	if err != nil {
		return nil, err
	}
	if res.AssetID == "" {
		res.AssetID = "sfx_" + c.now().Format("20060102_150405")
	}
	return res, nil
}

type designRequest struct {
	VoiceDescription string `json:"voice_description"`
	ModelID          string `json:"model_id"`
	Text             string `json:"text"`
}

type designResponse struct {
	Previews []struct {
		GeneratedVoiceID string `json:"generated_voice_id"`
	} `json:"previews"`
}

// DesignVoice creates a voice from a description and returns the id of the
// first preview.
func (c *Client) DesignVoice(ctx context.Context, description, text string) (string, error) {
	body, err := json.Marshal(designRequest{VoiceDescription: description, ModelID: c.opts.VoiceDesignModel, Text: text})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/v1/text-to-voice/design", nil, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out designResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Previews) == 0 || out.Previews[0].GeneratedVoiceID == "" {
		return "", ErrNoPreviews
	}
	return out.Previews[0].GeneratedVoiceID, nil
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Speech renders text with an existing voice.
func (c *Client) Speech(ctx context.Context, voiceID, text string) (*Result, error) {
	q := url.Values{"output_format": {c.opts.OutputFormat}}
	res, err := c.audio(ctx, "/v1/text-to-speech/"+url.PathEscape(voiceID), q, speechRequest{
		Text:    text,
		ModelID: c.opts.TTSModel,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, err
	}
	res.AssetID = voiceID
	return res, nil
}

// Voice speaks text. A non-empty profile designs a matching voice first;
// otherwise the configured preset voice is used.
func (c *Client) Voice(ctx context.Context, profile, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("voice: %w", errTextRequired)
	}
	voiceID := c.opts.DefaultVoiceID
	if strings.TrimSpace(profile) != "" {
		id, err := c.DesignVoice(ctx, profile, text)
		if err != nil {
			return nil, fmt.Errorf("design voice: %w", err)
		}
		voiceID = id
	}
	c.logger.Info().Str("kind", "voice").Str("voice_id", voiceID).Str("text", truncate(text, 50)).Msg("generating")
	return c.Speech(ctx, voiceID, text)
}

type musicRequest struct {
	CompositionPlan *CompositionPlan `json:"composition_plan,omitempty"`
	Prompt          string           `json:"prompt,omitempty"`
	MusicLengthMS   int              `json:"music_length_ms,omitempty"`
}

// Music composes a track from a plan. A plan without sections is sent as a
// style prompt with a default length.
func (c *Client) Music(ctx context.Context, plan CompositionPlan) (*Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	req := musicRequest{}
	if len(plan.Sections) > 0 {
		req.CompositionPlan = &plan
	} else {
		req.Prompt = plan.Prompt()
		req.MusicLengthMS = DefaultMusicLengthMS
	}
	c.logger.Info().Str("kind", "music").Int("sections", len(plan.Sections)).Int("duration_ms", plan.DurationMS()).Msg("generating")

	q := url.Values{"output_format": {c.opts.OutputFormat}}
	res, err := c.audio(ctx, "/v1/music", q, req)
	if err != nil {
		return nil, err
	}
	if res.AssetID == "" {
		res.AssetID = "music_" + c.now().Format("20060102_150405")
	}
	return res, nil
}

// audio posts a JSON body and reads an audio response.
func (c *Client) audio(ctx context.Context, path string, q url.Values, payload any) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, path, q, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	return &Result{
		Audio:       data,
		ContentType: resp.Header.Get("Content-Type"),
		AssetID:     resp.Header.Get("request-id"),
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte) (*http.Response, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	c.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("api call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
