package narration

import (
	"strings"
	"time"

	"github.com/MrWong99/glyphlens/pkg/types"
)

// DefaultObjectsPhrase introduces the object list in a composed sentence.
const DefaultObjectsPhrase = "Objetos detectados"

// Compose builds the sentence "<text>. <phrase>: a, b". Blank labels are
// skipped and labels keep their order. A clause with no content is left out;
// ok is false when both are empty.
func Compose(text string, labels []string, phrase string, now time.Time) (ev types.NarrationEvent, ok bool) {
	text = strings.Join(strings.Fields(text), " ")
	if phrase == "" {
		phrase = DefaultObjectsPhrase
	}

	kept := make([]string, 0, len(labels))
	for _, l := range labels {
		if l = strings.TrimSpace(l); l != "" {
			kept = append(kept, l)
		}
	}

	var b strings.Builder
	if text != "" {
		b.WriteString(text)
	}
	if len(kept) > 0 {
		if text != "" {
			if !strings.ContainsAny(text[len(text)-1:], ".!?") {
				b.WriteByte('.')
			}
			b.WriteByte(' ')
		}
		b.WriteString(phrase)
		b.WriteString(": ")
		b.WriteString(strings.Join(kept, ", "))
	}
	if b.Len() == 0 {
		return types.NarrationEvent{}, false
	}
	return types.NarrationEvent{Text: b.String(), ProducedAt: now}, true
}
