package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/gazaledger/internal/llm"
)

const visionSystemPrompt = "You transcribe scanned report pages. Output only the text visible on the page, in reading order, without commentary. Keep numbers exactly as printed."

// Vision recognizes page images with an OpenAI-compatible multimodal model.
type Vision struct {
	Client llm.Client
	Model  string
}

func (v *Vision) Available() bool {
	return v != nil && v.Client != nil && strings.TrimSpace(v.Model) != ""
}

// Recognize sends the page image to the model and returns its transcript.
func (v *Vision) Recognize(ctx context.Context, image []byte) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       v.Model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: visionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: "Transcribe this page."},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(image),
					Detail: openai.ImageURLDetailHigh,
				}},
			}},
		},
	}
	resp, err := v.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("vision model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
