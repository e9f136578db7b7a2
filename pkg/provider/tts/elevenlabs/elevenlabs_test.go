package elevenlabs

import (
	"encoding/json"
	"strings"
	"testing"
)

// ---- WebSocket message construction ----

func TestBuildWSMessage(t *testing.T) {
	t.Run("with voice settings", func(t *testing.T) {
		data, err := buildWSMessage("Hola", &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75})
		if err != nil {
			t.Fatalf("buildWSMessage: %v", err)
		}
		var msg textMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Text != "Hola" {
			t.Errorf("expected text 'Hola', got %q", msg.Text)
		}
		if msg.VoiceSettings == nil || msg.VoiceSettings.SimilarityBoost != 0.75 {
			t.Errorf("unexpected voice settings %+v", msg.VoiceSettings)
		}
	})

	t.Run("flush command", func(t *testing.T) {
		// ElevenLabs flush = {"text":""} with no other fields.
		data, err := buildWSMessage("", nil)
		if err != nil {
			t.Fatalf("buildWSMessage: %v", err)
		}
		if string(data) != `{"text":""}` {
			t.Errorf("flush payload = %s", data)
		}
	})
}

func TestBuildURLForVoice(t *testing.T) {
	url := buildURLForVoice("voice-abc123", "eleven_multilingual_v2")
	if !strings.HasPrefix(url, "wss://") {
		t.Errorf("URL should be a WebSocket URL, got: %s", url)
	}
	if !strings.Contains(url, "/voice-abc123/") || !strings.HasSuffix(url, "model_id=eleven_multilingual_v2") {
		t.Errorf("URL should carry voice and model, got: %s", url)
	}
}

// ---- Voice list response parsing ----

func TestParseVoicesResponse(t *testing.T) {
	raw := []byte(`{
		"voices": [
			{"voice_id": "abc123", "name": "Lucia", "category": "premade", "labels": {"accent": "castilian"}},
			{"voice_id": "x1", "name": "Ghost", "category": "", "labels": null}
		]
	}`)

	profiles, err := parseVoicesResponse(raw)
	if err != nil {
		t.Fatalf("parseVoicesResponse: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	lucia := profiles[0]
	if lucia.ID != "abc123" || lucia.Name != "Lucia" || lucia.Provider != "elevenlabs" {
		t.Errorf("unexpected profile %+v", lucia)
	}
	if lucia.Metadata["accent"] != "castilian" || lucia.Metadata["category"] != "premade" {
		t.Errorf("unexpected metadata %v", lucia.Metadata)
	}
	if _, ok := profiles[1].Metadata["category"]; ok {
		t.Error("expected no 'category' key in metadata when category is empty")
	}

	if _, err := parseVoicesResponse([]byte(`{invalid`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

// ---- Output format ----

func TestParsePCMRate(t *testing.T) {
	tests := []struct {
		format  string
		want    int
		wantErr bool
	}{
		{"pcm_16000", 16000, false},
		{"pcm_44100", 44100, false},
		{"mp3_44100_128", 0, true},
		{"pcm_", 0, true},
		{"pcm_-5", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			got, err := parsePCMRate(tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("rate = %d, want %d", got, tt.want)
			}
		})
	}
}

// ---- Constructor tests ----

func TestNew(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}

	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel || p.outputFormat != defaultOutputFmt {
		t.Errorf("defaults = (%q, %q)", p.model, p.outputFormat)
	}
	if f := p.OutputFormat(); f.SampleRate != 16000 || f.Channels != 1 {
		t.Errorf("OutputFormat = %+v, want 16000Hz mono", f)
	}

	p, err = New("key", WithModel("eleven_flash_v2_5"), WithOutputFormat("pcm_24000"))
	if err != nil {
		t.Fatalf("New with options: %v", err)
	}
	if p.model != "eleven_flash_v2_5" || p.OutputFormat().SampleRate != 24000 {
		t.Errorf("options not applied: model=%q format=%+v", p.model, p.OutputFormat())
	}

	if _, err := New("key", WithOutputFormat("mp3_44100_128")); err == nil {
		t.Error("expected error for non-PCM output format")
	}
}
