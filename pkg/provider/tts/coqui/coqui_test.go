package coqui

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/glyphlens/pkg/provider/tts"
	"github.com/MrWong99/glyphlens/pkg/types"
)

// ---- test helpers ----

// buildTestWAV constructs a minimal RIFF/WAVE file holding 16 kHz mono PCM.
func buildTestWAV(pcm []byte) []byte {
	le := binary.LittleEndian
	buf := make([]byte, 0, 44+len(pcm))
	putU32 := func(v uint32) { buf = le.AppendUint32(buf, v) }
	putU16 := func(v uint16) { buf = le.AppendUint16(buf, v) }

	buf = append(buf, "RIFF"...)
	putU32(uint32(36 + len(pcm)))
	buf = append(buf, "WAVE"...)

	buf = append(buf, "fmt "...)
	putU32(16)
	putU16(1)     // PCM
	putU16(1)     // mono
	putU32(16000) // sample rate
	putU32(32000) // byte rate
	putU16(2)     // block align
	putU16(16)    // bits per sample

	buf = append(buf, "data"...)
	putU32(uint32(len(pcm)))
	return append(buf, pcm...)
}

func drainAudio(ch <-chan []byte) []byte {
	var out []byte
	for chunk := range ch {
		out = append(out, chunk...)
	}
	return out
}

func sendFragments(fragments ...string) <-chan string {
	ch := make(chan string, len(fragments))
	for _, f := range fragments {
		ch <- f
	}
	close(ch)
	return ch
}

func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return p
}

func filledPCM(n int, b byte) []byte {
	pcm := make([]byte, n)
	for i := range pcm {
		pcm[i] = b
	}
	return pcm
}

// ---- construction ----

func TestNew(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty serverURL")
	}
	if _, err := New("http://x", WithAPIMode("bogus")); err == nil {
		t.Error("expected error for unknown api mode")
	}

	p := mustNew(t, "http://localhost:5002/", WithLanguage("fr"), WithTimeout(5*time.Second))
	if p.serverURL != "http://localhost:5002" {
		t.Errorf("serverURL = %q, trailing slash should be trimmed", p.serverURL)
	}
	if p.language != "fr" || p.httpClient.Timeout != 5*time.Second {
		t.Errorf("options not applied: language=%q timeout=%v", p.language, p.httpClient.Timeout)
	}
	if p.apiMode != APIModeStandard {
		t.Errorf("default api mode = %q, want standard", p.apiMode)
	}
	if f := p.OutputFormat(); f.SampleRate != defaultOutputRate || f.Channels != 1 {
		t.Errorf("OutputFormat = %+v", f)
	}
}

// ---- synthesis ----

func TestSynthesizeStream_Standard(t *testing.T) {
	wantPCM := filledPCM(100, 0x42)
	var (
		mu      sync.Mutex
		queries []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiTTSEndpoint || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("text"))
		mu.Unlock()
		if r.URL.Query().Get("speaker_id") != "p225" || r.URL.Query().Get("language_id") != "es" {
			http.Error(w, "bad params", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(buildTestWAV(wantPCM))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithOutputSampleRate(16000))
	audioCh, err := p.SynthesizeStream(context.Background(),
		sendFragments("Hola mundo. ", "Objetos detectados: ", "persona"),
		types.VoiceProfile{ID: "p225"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}

	pcm := drainAudio(audioCh)
	if len(pcm) != 2*len(wantPCM) {
		t.Fatalf("total PCM bytes = %d, want %d", len(pcm), 2*len(wantPCM))
	}
	for i, b := range pcm {
		if b != 0x42 {
			t.Fatalf("pcm[%d] = %02x, want 0x42", i, b)
		}
	}
	want := []string{"Hola mundo.", "Objetos detectados: persona"}
	if !reflect.DeepEqual(queries, want) {
		t.Errorf("sentences = %q, want %q", queries, want)
	}
}

func TestSynthesizeStream_XTTS(t *testing.T) {
	var got xttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != xttsEndpoint || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		_, _ = w.Write(buildTestWAV(filledPCM(64, 0x10)))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS), WithOutputSampleRate(32000))
	audioCh, err := p.SynthesizeStream(context.Background(), sendFragments("Hola."), types.VoiceProfile{ID: "Ana Florence"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	pcm := drainAudio(audioCh)
	// 32 samples at 16 kHz upsampled to 32 kHz.
	if len(pcm) != 128 {
		t.Errorf("PCM bytes = %d, want 128", len(pcm))
	}
	if got.Text != "Hola." || got.SpeakerWav != "Ana Florence" || got.Language != "es" {
		t.Errorf("request = %+v", got)
	}
}

func TestSynthesizeStream_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	audioCh, err := p.SynthesizeStream(context.Background(), sendFragments("Hola."), types.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream should not fail at startup: %v", err)
	}
	if pcm := drainAudio(audioCh); len(pcm) != 0 {
		t.Errorf("expected no audio on server error, got %d bytes", len(pcm))
	}
}

func TestSynthesize_FailureAfterFirstSentence(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n > 1 {
			http.Error(w, "model crashed", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(buildTestWAV(filledPCM(64, 0x10)))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	pcm, err := tts.Synthesize(context.Background(), p, "Hola. Adiós.", types.VoiceProfile{})
	if err == nil {
		t.Fatalf("Synthesize returned %d bytes and no error, want the second sentence's failure", len(pcm))
	}
	if pcm != nil {
		t.Errorf("partial audio returned: %d bytes", len(pcm))
	}
}

func TestSynthesizeStream_ContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	p := mustNew(t, srv.URL)
	text := make(chan string) // never closed
	audioCh, err := p.SynthesizeStream(ctx, text, types.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	cancel()

	select {
	case _, ok := <-audioCh:
		if ok {
			t.Error("expected closed channel after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("audio channel not closed after cancellation")
	}
}

// ---- voices ----

func TestListVoices(t *testing.T) {
	tests := []struct {
		name    string
		mode    APIMode
		path    string
		body    string
		wantIDs []string
		wantTyp string
	}{
		{"xtts studio speakers", APIModeXTTS, studioSpeakersEndpoint,
			`{"Claribel Dervla": {}, "Ana Florence": {}}`, []string{"Ana Florence", "Claribel Dervla"}, "studio"},
		{"standard multi speaker", APIModeStandard, detailsEndpoint,
			`{"model_name": "vits", "speakers": ["p226", "p225"]}`, []string{"p225", "p226"}, "speaker"},
		{"standard single speaker", APIModeStandard, detailsEndpoint,
			`{"model_name": "tts_models/es/css10/vits"}`, []string{"tts_models/es/css10/vits"}, "model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.path {
					http.NotFound(w, r)
					return
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			voices, err := mustNew(t, srv.URL, WithAPIMode(tt.mode)).ListVoices(context.Background())
			if err != nil {
				t.Fatalf("ListVoices: %v", err)
			}
			var ids []string
			for _, v := range voices {
				ids = append(ids, v.ID)
				if v.Provider != "coqui" || v.Metadata["type"] != tt.wantTyp {
					t.Errorf("unexpected profile %+v", v)
				}
			}
			if !reflect.DeepEqual(ids, tt.wantIDs) {
				t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
			}
		})
	}
}

func TestListVoices_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := mustNew(t, srv.URL).ListVoices(context.Background()); err == nil {
		t.Fatal("expected error for 503")
	}
}

// ---- helpers ----

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"Hola", []string{"Hola"}},
		{"Hola. Adiós!", []string{"Hola.", "Adiós!"}},
		{"Pi es 3.14 aprox. ¿Sí?", []string{"Pi es 3.14 aprox.", "¿Sí?"}},
		{"  ...  ", []string{"..."}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := splitSentences(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitSentences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecodeWAV(t *testing.T) {
	pcm := []byte{0x00, 0x40, 0x00, 0xc0} // 16384, -16384
	got, format, err := decodeWAV(buildTestWAV(pcm))
	if err != nil {
		t.Fatalf("decodeWAV: %v", err)
	}
	if format.SampleRate != 16000 || format.Channels != 1 {
		t.Errorf("format = %+v", format)
	}
	if !reflect.DeepEqual(got, pcm) {
		t.Errorf("pcm = %v, want %v", got, pcm)
	}

	if _, _, err := decodeWAV([]byte("not a wav")); err == nil {
		t.Error("expected error for invalid WAV")
	}
}
