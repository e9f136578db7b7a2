// Package types defines the shared types used across all glyphlens packages.
//
// These types form the lingua franca between the detection, translation and
// speech providers and the analysis worker. Each package defines its own
// domain types; cross-cutting data structures live here to avoid circular
// imports between pkg/provider and internal/.
package types

import (
	"strings"
	"time"
)

// DetectionResult is what a detection provider extracted from a single frame.
// It is produced once per analysis cycle and consumed immediately by the
// translation step.
type DetectionResult struct {
	// Text is the recognised text in the frame. Empty when no text was found.
	Text string

	// Labels lists the detected objects in detection order. Duplicates are
	// allowed unless the provider documents otherwise.
	Labels []string
}

// IsEmpty reports whether the result carries neither text nor labels.
func (d DetectionResult) IsEmpty() bool {
	return strings.TrimSpace(d.Text) == "" && len(d.Labels) == 0
}

// NarrationEvent is a single composed utterance ready for speech synthesis.
type NarrationEvent struct {
	// Text is the full sentence to be spoken.
	Text string

	// ProducedAt is when the event was composed.
	ProducedAt time.Time
}

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Images are attached to user messages for vision-capable models.
	Images []Image
}

// Image is an encoded picture attached to a [Message].
type Image struct {
	// MIMEType is the media type of Data (e.g., "image/jpeg").
	MIMEType string

	// Data holds the encoded image bytes.
	Data []byte
}

// VoiceProfile describes the TTS voice used for narration.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language is the BCP-47 code the voice should speak (e.g., "es").
	Language string

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsVision indicates the model can process image inputs.
	SupportsVision bool

	// SupportsJSONMode indicates the model can be forced to reply with a JSON object.
	SupportsJSONMode bool
}
