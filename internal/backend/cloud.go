package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

// CloudClient implements the cloud backend over the official openai-go SDK.
// The caller gates every call on identity and quota; this client only
// translates prompts and streams responses.
type CloudClient struct {
	client   openai.Client
	model    string
	sttModel string
	log      zerolog.Logger
}

// CloudOptions configures the cloud backend client.
type CloudOptions struct {
	APIKey   string
	BaseURL  string
	Model    string
	STTModel string
	Log      zerolog.Logger
}

// NewCloudClient creates a cloud backend client. Returns an error when no
// API key is configured; the engine treats a nil cloud backend as "cloud
// path unavailable".
func NewCloudClient(opts CloudOptions) (*CloudClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("cloud api key missing")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &CloudClient{
		client:   openai.NewClient(reqOpts...),
		model:    opts.Model,
		sttModel: opts.STTModel,
		log:      opts.Log,
	}, nil
}

// Generate streams a chat completion, invoking emit once per text delta,
// and returns the accumulated text.
func (c *CloudClient) Generate(ctx context.Context, p Prompt, emit func(string)) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: toCloudMessages(p),
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if emit != nil {
			emit(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return sb.String(), fmt.Errorf("cloud stream: %w", err)
	}
	return sb.String(), nil
}

// Transcribe sends one whole audio file in a single transcription call.
func (c *CloudClient) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	resp, err := c.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), filename, "audio/wav"),
		Model: openai.AudioModel(c.sttModel),
	})
	if err != nil {
		return "", fmt.Errorf("cloud transcription: %w", err)
	}
	return resp.Text, nil
}

// toCloudMessages translates the prompt union into the SDK's content-part
// format. A bare string becomes one user text part; structured messages are
// translated part-by-part, with binary parts inlined as base64 data.
func toCloudMessages(p Prompt) []openai.ChatCompletionMessageParamUnion {
	switch v := p.(type) {
	case TextPrompt:
		return []openai.ChatCompletionMessageParamUnion{openai.UserMessage(string(v))}
	case StructuredPrompt:
		msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(v.Messages))
		for _, m := range v.Messages {
			switch m.Role {
			case "system":
				msgs = append(msgs, openai.SystemMessage(flattenParts(m.Parts)))
			case "assistant":
				msgs = append(msgs, openai.AssistantMessage(flattenParts(m.Parts)))
			default:
				msgs = append(msgs, openai.UserMessage(toContentParts(m.Parts)))
			}
		}
		return msgs
	default:
		return nil
	}
}

func flattenParts(parts []Part) string {
	var texts []string
	for _, p := range parts {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func toContentParts(parts []Part) []openai.ChatCompletionContentPartUnionParam {
	out := make([]openai.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case PartText:
			out = append(out, openai.TextContentPart(p.Text))
		case PartImage:
			url := fmt.Sprintf("data:%s;base64,%s", p.MIME, base64.StdEncoding.EncodeToString(p.Data))
			out = append(out, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
		case PartAudio:
			out = append(out, openai.InputAudioContentPart(openai.ChatCompletionContentPartInputAudioInputAudioParam{
				Data:   base64.StdEncoding.EncodeToString(p.Data),
				Format: audioFormat(p.MIME),
			}))
		}
	}
	return out
}

func audioFormat(mime string) string {
	if strings.Contains(mime, "mp3") || strings.Contains(mime, "mpeg") {
		return "mp3"
	}
	return "wav"
}
