package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/glyphlens/internal/app"
	"github.com/MrWong99/glyphlens/internal/camera"
	cameramock "github.com/MrWong99/glyphlens/internal/camera/mock"
	"github.com/MrWong99/glyphlens/internal/config"
	"github.com/MrWong99/glyphlens/internal/journal"
	"github.com/MrWong99/glyphlens/internal/observe"
	audiomock "github.com/MrWong99/glyphlens/pkg/audio/mock"
	detectmock "github.com/MrWong99/glyphlens/pkg/provider/detect/mock"
	translatemock "github.com/MrWong99/glyphlens/pkg/provider/translate/mock"
	ttsmock "github.com/MrWong99/glyphlens/pkg/provider/tts/mock"
	"github.com/MrWong99/glyphlens/pkg/types"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// testConfig returns a config with defaults and a fast analysis loop.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server:   config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Analysis: config.AnalysisConfig{CycleInterval: config.Duration(10 * time.Millisecond)},
		Providers: config.ProvidersConfig{
			Detection: []config.ProviderEntry{{Name: "mock"}},
			TTS:       config.ProviderEntry{Name: "mock"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

type fixture struct {
	providers *app.Providers
	sink      *audiomock.Sink
	tts       *ttsmock.Provider
	source    *camera.Source
}

func newFixture(t *testing.T, m *observe.Metrics) *fixture {
	t.Helper()
	sink := &audiomock.Sink{}
	tts := &ttsmock.Provider{SynthesizeChunks: [][]byte{{0, 0, 1, 0}}}
	return &fixture{
		providers: &app.Providers{
			Detector:   &detectmock.Provider{Result: types.DetectionResult{Text: "EXIT", Labels: []string{"door"}}},
			Translator: &translatemock.Provider{Dictionary: map[string]string{"EXIT": "SALIDA", "door": "puerta"}},
			TTS:        tts,
			Audio:      sink,
		},
		sink:   sink,
		tts:    tts,
		source: camera.NewSource(&cameramock.Device{Frames: [][]byte{{0xFF, 0xD8, 0xFF, 0xD9}}}, camera.WithMetrics(m)),
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	m := testMetrics(t)

	tests := []struct {
		name   string
		mutate func(p *app.Providers)
		want   string
	}{
		{"no tts", func(p *app.Providers) { p.TTS = nil }, "TTS"},
		{"no sink", func(p *app.Providers) { p.Audio = nil }, "audio sink"},
		{"no detector", func(p *app.Providers) { p.Detector = nil }, "detector"},
		{"no translator", func(p *app.Providers) { p.Translator = nil }, "translator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, m)
			tt.mutate(f.providers)
			_, err := app.New(context.Background(), testConfig(), f.providers,
				app.WithFrameSource(f.source), app.WithMetrics(m))
			if err == nil {
				t.Fatal("New() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestNew_PostgresJournalUnreachable(t *testing.T) {
	t.Parallel()
	m := testMetrics(t)
	f := newFixture(t, m)
	cfg := testConfig()
	cfg.Journal.Backend = config.JournalPostgres
	cfg.Journal.PostgresDSN = "postgres://nobody@127.0.0.1:1/none?connect_timeout=1"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := app.New(ctx, cfg, f.providers, app.WithFrameSource(f.source), app.WithMetrics(m)); err == nil {
		t.Fatal("New() succeeded with an unreachable journal")
	}
	if f.sink.CloseCount != 0 {
		t.Errorf("sink closed %d times before it was wired", f.sink.CloseCount)
	}
}

func TestRun_NarratesAfterStart(t *testing.T) {
	t.Parallel()
	m := testMetrics(t)
	f := newFixture(t, m)
	j := journal.NewMemory(10)

	application, err := app.New(context.Background(), testConfig(), f.providers,
		app.WithFrameSource(f.source),
		app.WithJournal(j),
		app.WithMetrics(m),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- application.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for application.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server never started listening")
		}
		time.Sleep(time.Millisecond)
	}
	base := "http://" + application.Addr().String()

	resp, err := http.Get(base + "/start_process")
	if err != nil {
		t.Fatalf("GET /start_process: %v", err)
	}
	var msg struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&msg)
	resp.Body.Close()
	if msg.Message != "process started, wait to hear the results" {
		t.Errorf("message = %q", msg.Message)
	}

	for len(f.sink.Texts()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("nothing was spoken")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := f.sink.Texts()[0]; got != "SALIDA. Objetos detectados: puerta" {
		t.Errorf("spoken = %q", got)
	}
	if calls := f.tts.SynthesizeStreamCalls; len(calls) != 1 || calls[0].Voice.Language != "es" {
		t.Errorf("tts calls = %+v, want one in the target language", calls)
	}
	// The 3s throttle holds back every later cycle of this short test.
	time.Sleep(50 * time.Millisecond)
	if got := len(f.sink.Texts()); got != 1 {
		t.Errorf("spoken %d times, want 1 within the narration interval", got)
	}

	resp, err = http.Get(base + "/narrations")
	if err != nil {
		t.Fatalf("GET /narrations: %v", err)
	}
	var body struct {
		Narrations []journal.Entry `json:"narrations"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if len(body.Narrations) != 1 || !body.Narrations[0].Spoken {
		t.Errorf("narrations = %+v, want one spoken entry", body.Narrations)
	}

	cancel()
	if err := <-runErr; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if application.Controller().Running() {
		t.Error("worker still running after Shutdown")
	}
	if f.sink.CloseCount != 1 {
		t.Errorf("sink CloseCount = %d, want 1", f.sink.CloseCount)
	}
	// Shutdown is idempotent.
	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestRun_ListenError(t *testing.T) {
	t.Parallel()
	m := testMetrics(t)
	f := newFixture(t, m)
	cfg := testConfig()
	cfg.Server.ListenAddr = "127.0.0.1:-1"

	application, err := app.New(context.Background(), cfg, f.providers, app.WithFrameSource(f.source), app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer application.Shutdown(context.Background())
	if err := application.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded on an invalid address")
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()
	m := testMetrics(t)
	f := newFixture(t, m)

	application, err := app.New(context.Background(), testConfig(), f.providers, app.WithFrameSource(f.source), app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer application.Shutdown(context.Background())

	old := testConfig()
	updated := testConfig()
	updated.Narration.Interval = config.Duration(7 * time.Second)
	updated.Analysis.CycleInterval = config.Duration(2 * time.Second)
	application.ApplyConfig(config.Diff(old, updated))

	st := application.Controller().Status()
	if st.NarrationInterval != "7s" {
		t.Errorf("narration interval = %s, want 7s", st.NarrationInterval)
	}
	if st.CycleInterval != "2s" {
		t.Errorf("cycle interval = %s, want 2s", st.CycleInterval)
	}
}

func TestHandler_Readyz(t *testing.T) {
	t.Parallel()
	m := testMetrics(t)
	f := newFixture(t, m)

	application, err := app.New(context.Background(), testConfig(), f.providers,
		app.WithFrameSource(f.source),
		app.WithMetrics(m),
		app.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer application.Shutdown(context.Background())

	for path, want := range map[string]int{"/readyz": http.StatusOK, "/metrics": http.StatusTeapot} {
		rec := httptest.NewRecorder()
		application.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Errorf("%s: status %d, want %d (%s)", path, rec.Code, want, rec.Body.String())
		}
	}
}

func TestNew_CameraOpener(t *testing.T) {
	t.Parallel()
	m := testMetrics(t)

	t.Run("opens and closes the device", func(t *testing.T) {
		f := newFixture(t, m)
		dev := &cameramock.Device{Frames: [][]byte{{0xFF, 0xD8, 0xFF, 0xD9}}}
		opens := 0
		application, err := app.New(context.Background(), testConfig(), f.providers,
			app.WithCameraOpener(func() (camera.Device, error) {
				opens++
				return dev, nil
			}),
			app.WithMetrics(m),
		)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if opens != 1 {
			t.Errorf("opener called %d times, want 1", opens)
		}
		if err := application.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
		if dev.Closes() != 1 {
			t.Errorf("device closed %d times, want 1", dev.Closes())
		}
	})

	t.Run("open failure is fatal", func(t *testing.T) {
		f := newFixture(t, m)
		_, err := app.New(context.Background(), testConfig(), f.providers,
			app.WithCameraOpener(func() (camera.Device, error) { return nil, errors.New("no such device") }),
			app.WithMetrics(m),
		)
		if err == nil || !strings.Contains(err.Error(), "no such device") {
			t.Fatalf("got %v, want the open error", err)
		}
	})

	t.Run("no opener", func(t *testing.T) {
		f := newFixture(t, m)
		_, err := app.New(context.Background(), testConfig(), f.providers, app.WithMetrics(m))
		if err == nil || !strings.Contains(err.Error(), "camera opener") {
			t.Fatalf("got %v, want a missing opener error", err)
		}
	})
}
