package backend

import "strings"

// PartType identifies the modality of one content part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
	PartAudio PartType = "audio"
)

// Part is one ordered content part of a structured message. Text parts set
// Text; image and audio parts carry raw bytes plus a MIME type.
type Part struct {
	Type PartType
	Text string
	Data []byte
	MIME string
}

// Message is a role-tagged sequence of content parts.
type Message struct {
	Role  string // "system", "user", "assistant"
	Parts []Part
}

// Prompt is a tagged union: either a plain TextPrompt or a StructuredPrompt
// of role-tagged multimodal messages. Backends switch on the concrete type
// instead of shape-sniffing.
type Prompt interface {
	isPrompt()
}

// TextPrompt is a bare string prompt.
type TextPrompt string

func (TextPrompt) isPrompt() {}

// StructuredPrompt is an ordered sequence of role-tagged messages.
type StructuredPrompt struct {
	Messages []Message
}

func (StructuredPrompt) isPrompt() {}

// TextMessage builds a single-part text message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Parts: []Part{{Type: PartText, Text: text}}}
}

// FlattenText joins every text part of the prompt in order, separated by
// newlines. Used by backends that only accept plain text input.
func FlattenText(p Prompt) string {
	switch v := p.(type) {
	case TextPrompt:
		return string(v)
	case StructuredPrompt:
		var parts []string
		for _, m := range v.Messages {
			for _, part := range m.Parts {
				if part.Type == PartText && part.Text != "" {
					parts = append(parts, part.Text)
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// FirstAudio returns the first audio part of the prompt, if any.
func FirstAudio(p Prompt) (Part, bool) {
	sp, ok := p.(StructuredPrompt)
	if !ok {
		return Part{}, false
	}
	for _, m := range sp.Messages {
		for _, part := range m.Parts {
			if part.Type == PartAudio {
				return part, true
			}
		}
	}
	return Part{}, false
}

// Images returns every image part of the prompt in order.
func Images(p Prompt) []Part {
	sp, ok := p.(StructuredPrompt)
	if !ok {
		return nil
	}
	var imgs []Part
	for _, m := range sp.Messages {
		for _, part := range m.Parts {
			if part.Type == PartImage {
				imgs = append(imgs, part)
			}
		}
	}
	return imgs
}
