package narration_test

import (
	"testing"
	"time"

	"github.com/MrWong99/glyphlens/internal/narration"
)

func TestCompose(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	tests := []struct {
		name   string
		text   string
		labels []string
		phrase string
		want   string
		wantOK bool
	}{
		{
			name:   "text and labels",
			text:   "Salida de emergencia",
			labels: []string{"Persona", "Puerta"},
			want:   "Salida de emergencia. Objetos detectados: Persona, Puerta",
			wantOK: true,
		},
		{
			name:   "labels only",
			labels: []string{"Persona"},
			want:   "Objetos detectados: Persona",
			wantOK: true,
		},
		{
			name:   "text only",
			text:   "  Hola \n mundo ",
			want:   "Hola mundo",
			wantOK: true,
		},
		{
			name:   "text ends with punctuation",
			text:   "¡Alto!",
			labels: []string{"Señal"},
			want:   "¡Alto! Objetos detectados: Señal",
			wantOK: true,
		},
		{
			name:   "custom phrase and blank labels",
			text:   "EXIT",
			labels: []string{" ", "door", ""},
			phrase: "Objects",
			want:   "EXIT. Objects: door",
			wantOK: true,
		},
		{
			name:   "nothing",
			text:   " ",
			labels: []string{""},
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev, ok := narration.Compose(tt.text, tt.labels, tt.phrase, now)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if ev.Text != tt.want {
				t.Errorf("Text = %q, want %q", ev.Text, tt.want)
			}
			if !ev.ProducedAt.Equal(now) {
				t.Errorf("ProducedAt = %v, want %v", ev.ProducedAt, now)
			}
		})
	}
}
