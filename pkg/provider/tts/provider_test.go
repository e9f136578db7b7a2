package tts_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/glyphlens/pkg/provider/tts"
	"github.com/MrWong99/glyphlens/pkg/provider/tts/mock"
	"github.com/MrWong99/glyphlens/pkg/types"
)

func TestSynthesize_CollectsChunks(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{SynthesizeChunks: [][]byte{{1, 0}, {2, 0}, {3, 0}}}
	voice := types.VoiceProfile{ID: "v1"}

	pcm, err := tts.Synthesize(context.Background(), p, "hola mundo", voice)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(pcm) != string([]byte{1, 0, 2, 0, 3, 0}) {
		t.Errorf("pcm = %v", pcm)
	}
	if got := p.ReceivedTexts(); len(got) != 1 || got[0] != "hola mundo" {
		t.Errorf("texts = %v, want [hola mundo]", got)
	}
	if p.SynthesizeStreamCalls[0].Voice.ID != "v1" {
		t.Errorf("voice = %+v", p.SynthesizeStreamCalls[0].Voice)
	}
}

func TestSynthesize_StartError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	p := &mock.Provider{SynthesizeErr: boom}
	if _, err := tts.Synthesize(context.Background(), p, "x", types.VoiceProfile{}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
}

func TestSynthesize_NoAudio(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	if _, err := tts.Synthesize(context.Background(), p, "x", types.VoiceProfile{}); !errors.Is(err, tts.ErrNoAudio) {
		t.Fatalf("err = %v, want ErrNoAudio", err)
	}
}

func TestWithVoice(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{SynthesizeChunks: [][]byte{{1, 0}}}
	wrapped := tts.WithVoice(p, types.VoiceProfile{ID: "coqui-speaker", Provider: "coqui"})

	if _, err := tts.Synthesize(context.Background(), wrapped, "hola", types.VoiceProfile{ID: "el-voice", Language: "es"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	got := p.SynthesizeStreamCalls[0].Voice
	if got.ID != "coqui-speaker" || got.Language != "es" {
		t.Errorf("voice = %+v, want coqui-speaker with inherited language es", got)
	}

	if tts.WithVoice(p, types.VoiceProfile{}) != tts.Provider(p) {
		t.Error("WithVoice with empty id should return p unchanged")
	}
}

func TestSynthesize_MidStreamFailure(t *testing.T) {
	t.Parallel()

	dropped := errors.New("connection dropped")
	p := &mock.Provider{SynthesizeChunks: [][]byte{{1, 0}}, StreamErr: dropped}

	pcm, err := tts.Synthesize(context.Background(), p, "hola", types.VoiceProfile{})
	if !errors.Is(err, dropped) {
		t.Fatalf("err = %v, want wrapped %v", err, dropped)
	}
	if pcm != nil {
		t.Errorf("partial pcm returned: %v", pcm)
	}
}

func TestReportError(t *testing.T) {
	t.Parallel()

	t.Run("first error wins", func(t *testing.T) {
		ctx, streamErr := tts.WithErrorRecorder(context.Background())
		first, second := errors.New("first"), errors.New("second")
		tts.ReportError(ctx, first)
		tts.ReportError(ctx, second)
		tts.ReportError(ctx, nil)
		if got := streamErr(); got != first {
			t.Errorf("streamErr() = %v, want %v", got, first)
		}
	})

	t.Run("cancelled context is ignored", func(t *testing.T) {
		ctx, streamErr := tts.WithErrorRecorder(context.Background())
		ctx, cancel := context.WithCancel(ctx)
		cancel()
		tts.ReportError(ctx, errors.New("read: context canceled"))
		if got := streamErr(); got != nil {
			t.Errorf("streamErr() = %v, want nil", got)
		}
	})

	t.Run("no recorder", func(t *testing.T) {
		// Must not panic.
		tts.ReportError(context.Background(), errors.New("lost"))
	})
}

func TestHasVoice(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{ListVoicesResult: []types.VoiceProfile{
		{ID: "21m00Tcm4TlvDq8EAACz", Name: "Rachel"},
		{ID: "Ana Florence"},
	}}
	tests := []struct {
		id   string
		want bool
	}{
		{"21m00Tcm4TlvDq8EAACz", true},
		{"Rachel", true},
		{"Ana Florence", true},
		{"nobody", false},
	}
	for _, tt := range tests {
		got, err := tts.HasVoice(context.Background(), p, tt.id)
		if err != nil {
			t.Fatalf("HasVoice(%q): %v", tt.id, err)
		}
		if got != tt.want {
			t.Errorf("HasVoice(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}

	boom := errors.New("unauthorized")
	if _, err := tts.HasVoice(context.Background(), &mock.Provider{ListVoicesErr: boom}, "x"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
}
