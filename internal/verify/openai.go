package verify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"

	"github.com/hubenschmidt/preboard/internal/onboarding"
	"github.com/hubenschmidt/preboard/internal/prompts"
)

var (
	// ErrUnsupportedDocument marks content the vision backend cannot read.
	ErrUnsupportedDocument = errors.New("unsupported document type")
	// ErrEmptyVerdict is returned when the model answered with no content.
	ErrEmptyVerdict = errors.New("empty oracle response")
)

var imageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// --- OpenAI vision backend ---

type openaiBackend struct {
	client    openai.Client
	model     string
	maxTokens int
}

// NewOpenAIBackend judges documents with a vision-capable chat model.
// Images are sent as data URIs, PDFs as file parts.
func NewOpenAIBackend(client openai.Client, model string, maxTokens int) Backend {
	return &openaiBackend{client: client, model: model, maxTokens: maxTokens}
}

func (o *openaiBackend) Verify(ctx context.Context, req Request) (onboarding.Verdict, error) {
	part, err := documentPart(req)
	if err != nil {
		return onboarding.Verdict{}, err
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(o.model),
		MaxTokens: openai.Int(int64(o.maxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompts.OracleSystem(req.Category, req.ExpectedName)),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(prompts.OracleUser(req.Category, req.ExpectedName)),
				part,
			}),
		},
	})
	if err != nil {
		return onboarding.Verdict{}, fmt.Errorf("oracle completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return onboarding.Verdict{}, ErrEmptyVerdict
	}
	return DecodeVerdict(resp.Choices[0].Message.Content)
}

func documentPart(req Request) (openai.ChatCompletionContentPartUnionParam, error) {
	uri := DataURI(req.ContentType, req.Document)
	switch {
	case imageTypes[req.ContentType]:
		return openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL:    uri,
			Detail: "high",
		}), nil
	case req.ContentType == "application/pdf":
		name := req.FileName
		if name == "" {
			name = string(req.Category) + ".pdf"
		}
		return openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
			FileData: openai.String(uri),
			Filename: openai.String(name),
		}), nil
	default:
		return openai.ChatCompletionContentPartUnionParam{}, fmt.Errorf("%w: %q", ErrUnsupportedDocument, req.ContentType)
	}
}

// DataURI encodes a document as a base64 data URI.
func DataURI(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
