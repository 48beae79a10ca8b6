package openai

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	openaiapi "github.com/sashabaranov/go-openai"

	"cio-bot/internal/domain"
	"cio-bot/internal/usecase/chat"
)

var ErrEmptyResponse = errors.New("openai returned empty response")

type Client struct {
	api *openaiapi.Client
}

// NewClient builds a client for token. baseURL overrides the API endpoint
// when non-empty, e.g. for a proxy.
func NewClient(token, baseURL string) *Client {
	cfg := openaiapi.DefaultConfig(token)
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Client{
		api: openaiapi.NewClientWithConfig(cfg),
	}
}

func (c *Client) Complete(ctx context.Context, req chat.CompletionRequest) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, toAPIRequest(req, false))
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	return resp.Choices[0].Message.Content, nil
}

func (c *Client) CompleteStream(ctx context.Context, req chat.CompletionRequest, onDelta func(string)) (string, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, toAPIRequest(req, true))
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sb.String(), err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		onDelta(delta)
	}

	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

func toAPIRequest(req chat.CompletionRequest, stream bool) openaiapi.ChatCompletionRequest {
	return openaiapi.ChatCompletionRequest{
		Model:               req.Model,
		Temperature:         req.Temperature,
		MaxCompletionTokens: req.MaxCompletionTokens,
		Stream:              stream,
		Messages:            toAPIMessages(req.Messages),
	}
}

func toAPIMessages(msgs []chat.Message) []openaiapi.ChatCompletionMessage {
	res := make([]openaiapi.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		res = append(res, openaiapi.ChatCompletionMessage{
			Role:    toAPIRole(m.Role),
			Content: m.Text,
		})
	}
	return res
}

func toAPIRole(role domain.Role) string {
	switch role {
	case domain.RoleSystem:
		return openaiapi.ChatMessageRoleSystem
	case domain.RoleAssistant:
		return openaiapi.ChatMessageRoleAssistant
	default:
		return openaiapi.ChatMessageRoleUser
	}
}
