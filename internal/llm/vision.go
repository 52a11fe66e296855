package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const ocrSystemPrompt = "You are an expert OCR system. Extract ALL text from the image exactly as it appears, preserving line breaks. Output only the text."

// VisionOCR reads text from images with an OpenAI vision model
type VisionOCR struct {
	client *openai.Client
	config Config
}

// NewVisionOCR returns an OCR backend for provider. Only OpenAI providers
// support images; anything else yields ErrDisabled.
func NewVisionOCR(provider Provider) (*VisionOCR, error) {
	p, ok := provider.(*OpenAIProvider)
	if !ok || p == nil {
		return nil, ErrDisabled
	}
	return &VisionOCR{client: p.client, config: p.config}, nil
}

// OCR sends image as a base64 data URL and returns the transcribed text
func (v *VisionOCR) OCR(ctx context.Context, image []byte, mimeType string) (string, error) {
	if v == nil {
		return "", ErrDisabled
	}
	if mimeType == "" {
		mimeType = "image/png"
	}

	model := v.config.VisionModel
	if model == "" {
		model = openai.GPT4oMini
	}

	ctx, cancel := context.WithTimeout(ctx, v.config.timeout(defaultTimeout))
	defer cancel()

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))
	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: ocrSystemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Transcribe this page."},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		MaxTokens: v.config.maxTokens(),
	})
	if err != nil {
		return "", fmt.Errorf("vision OCR: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision OCR: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
