// Package coqui provides a TTS provider backed by a locally running Coqui TTS
// server. It implements the tts.Provider interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis uses GET /api/tts with query
//     parameters; the voice catalogue comes from GET /details.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server. Synthesis uses
//     POST /tts_to_audio/ with a JSON body; voices come from GET /studio_speakers.
//
// Both servers answer one HTTP request per utterance with a WAV file. The
// provider splits incoming text into sentences, synthesises them in order and
// emits PCM resampled to the configured output rate.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/gopxl/beep/wav"

	"github.com/MrWong99/glyphlens/pkg/audio"
	"github.com/MrWong99/glyphlens/pkg/provider/tts"
	"github.com/MrWong99/glyphlens/pkg/types"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage   = "es"
	defaultTimeout    = 30 * time.Second
	defaultOutputRate = 22050

	xttsEndpoint           = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"

	// pcmChunkSize is the size of each PCM chunk emitted on the audio channel.
	pcmChunkSize = 4096
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the server. Defaults to "es".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithOutputSampleRate sets the sample rate of emitted PCM. Server audio is
// resampled to it. Defaults to 22050 Hz, the native rate of most Coqui models.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.outputRate = rate
		}
	}
}

// Provider implements tts.Provider backed by a Coqui TTS server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
	outputRate int
}

// New creates a Provider targeting the server at serverURL
// (e.g., "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		outputRate: defaultOutputRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.apiMode != APIModeStandard && p.apiMode != APIModeXTTS {
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.apiMode)
	}
	return p, nil
}

// OutputFormat implements tts.Provider.
func (p *Provider) OutputFormat() audio.Format {
	return audio.Format{SampleRate: p.outputRate, Channels: 1}
}

// SynthesizeStream implements tts.Provider. Fragments are accumulated until the
// text channel closes, then synthesised sentence by sentence.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	audioCh := make(chan []byte, 64)

	go func() {
		defer close(audioCh)

		var sb strings.Builder
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					p.emitSentences(ctx, splitSentences(sb.String()), voice, audioCh)
					return
				}
				sb.WriteString(fragment)
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}

func (p *Provider) emitSentences(ctx context.Context, sentences []string, voice types.VoiceProfile, out chan<- []byte) {
	for _, sentence := range sentences {
		pcm, err := p.synthesize(ctx, sentence, voice)
		if err != nil {
			tts.ReportError(ctx, err)
			return
		}
		for len(pcm) > 0 {
			n := min(pcmChunkSize, len(pcm))
			select {
			case out <- pcm[:n]:
			case <-ctx.Done():
				return
			}
			pcm = pcm[n:]
		}
	}
}

// synthesize performs one request in the configured API mode and returns PCM
// in the provider's output format.
func (p *Provider) synthesize(ctx context.Context, sentence string, voice types.VoiceProfile) ([]byte, error) {
	var (
		req *http.Request
		err error
	)
	switch p.apiMode {
	case APIModeXTTS:
		req, err = p.xttsRequest(ctx, sentence, voice)
	default:
		req, err = p.standardRequest(ctx, sentence, voice)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}

	pcm, format, err := decodeWAV(body)
	if err != nil {
		return nil, err
	}
	return audio.Convert(pcm, format, p.OutputFormat()), nil
}

// xttsRequest is the JSON body sent to POST /tts_to_audio/.
type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

func (p *Provider) xttsRequest(ctx context.Context, sentence string, voice types.VoiceProfile) (*http.Request, error) {
	data, err := json.Marshal(xttsRequest{Text: sentence, SpeakerWav: voice.ID, Language: p.language})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *Provider) standardRequest(ctx context.Context, sentence string, voice types.VoiceProfile) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", sentence)
	if voice.ID != "" {
		params.Set("speaker_id", voice.ID)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	return req, nil
}

// ---- ListVoices ----

// detailsResponse is the JSON body returned by GET /details (standard mode).
// Speakers is nil for single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Speakers  []string `json:"speakers"`
}

// ListVoices implements tts.Provider.
//
// In APIModeXTTS it lists /studio_speakers. In APIModeStandard it returns one
// profile per speaker of a multi-speaker model, or a single profile named
// after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	if p.apiMode == APIModeXTTS {
		var raw map[string]json.RawMessage
		if err := p.getJSON(ctx, studioSpeakersEndpoint, &raw); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(raw))
		for name := range raw {
			names = append(names, name)
		}
		return p.profiles(names, "studio", ""), nil
	}

	var details detailsResponse
	if err := p.getJSON(ctx, detailsEndpoint, &details); err != nil {
		return nil, err
	}
	if len(details.Speakers) > 0 {
		return p.profiles(details.Speakers, "speaker", details.ModelName), nil
	}
	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return p.profiles([]string{name}, "model", details.ModelName), nil
}

func (p *Provider) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: GET %s returned status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", endpoint, err)
	}
	return nil
}

// profiles maps names to sorted voice profiles.
func (p *Provider) profiles(names []string, kind, model string) []types.VoiceProfile {
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	out := make([]types.VoiceProfile, 0, len(sorted))
	for _, name := range sorted {
		meta := map[string]string{"type": kind}
		if model != "" {
			meta["model_name"] = model
		}
		out = append(out, types.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Language: p.language,
			Metadata: meta,
		})
	}
	return out
}

// ---- helpers ----

// splitSentences splits s after '.', '!' or '?' when followed by whitespace or
// the end of input. Abbreviations like "3.14" stay intact.
func splitSentences(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 < len(s) && !unicode.IsSpace(rune(s[i+1])) {
			continue
		}
		if sentence := strings.TrimSpace(s[start : i+1]); sentence != "" {
			out = append(out, sentence)
		}
		start = i + 1
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// decodeWAV decodes a RIFF/WAVE body into 16-bit PCM and its format.
func decodeWAV(body []byte) ([]byte, audio.Format, error) {
	streamer, format, err := wav.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("coqui: decode WAV: %w", err)
	}
	defer streamer.Close()

	channels := format.NumChannels
	if channels != 2 {
		channels = 1
	}
	out := make([]byte, 0, streamer.Len()*2*channels)
	buf := make([][2]float64, 512)
	for {
		n, ok := streamer.Stream(buf)
		for _, frame := range buf[:n] {
			out = appendSample(out, frame[0])
			if channels == 2 {
				out = appendSample(out, frame[1])
			}
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, audio.Format{}, fmt.Errorf("coqui: decode WAV: %w", err)
	}
	return out, audio.Format{SampleRate: int(format.SampleRate), Channels: channels}, nil
}

func appendSample(pcm []byte, v float64) []byte {
	s := int32(v * 32768)
	s = max(-32768, min(32767, s))
	return append(pcm, byte(s), byte(s>>8))
}
