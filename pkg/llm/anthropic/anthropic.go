// Package anthropic implements llm.Client on top of the Anthropic Claude
// Messages API. Grounded on goadesign-goa-ai's
// features/model/anthropic/client.go and stream.go: an interface capturing
// only the SDK surface actually used (so tests can substitute a fake), a
// streaming event processor that buffers partial tool_use JSON per content
// block index, and translation into the package's own chunk vocabulary.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/codeready-toolchain/docbot-core/pkg/llm"
)

// MessagesClient is the subset of *sdk.MessageService used by Client,
// factored out so tests can supply a stub.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Client adapts MessagesClient to llm.Client.
type Client struct {
	msg          MessagesClient
	defaultModel string
}

// New builds a Client from an already-constructed Anthropic Messages client.
func New(msg MessagesClient, defaultModel string) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &Client{msg: msg, defaultModel: defaultModel}, nil
}

// NewFromAPIKey constructs a Client using apiKey against the default
// Anthropic endpoint.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages, defaultModel)
}

// Complete issues a streaming Messages.New request and returns an
// llm.Stream that decodes Anthropic's SSE events as they arrive.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Stream, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}

	stream := c.msg.NewStreaming(ctx, params)
	return newStream(ctx, stream), nil
}

func (c *Client) buildParams(req llm.Request) (sdk.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	for _, m := range req.Messages {
		msg, err := toAnthropicMessage(m)
		if err != nil {
			return params, err
		}
		params.Messages = append(params.Messages, msg)
	}

	for _, tool := range req.Tools {
		schema, err := toInputSchema(tool.InputSchema)
		if err != nil {
			return params, fmt.Errorf("tool %q: %w", tool.Name, err)
		}
		params.Tools = append(params.Tools, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        tool.Name,
				Description: sdk.String(tool.Description),
				InputSchema: schema,
			},
		})
	}

	return params, nil
}

func toAnthropicMessage(m llm.Message) (sdk.MessageParam, error) {
	switch m.Role {
	case llm.RoleUser:
		blocks := []sdk.ContentBlockParamUnion{}
		if m.Text != "" {
			blocks = append(blocks, sdk.NewTextBlock(m.Text))
		}
		for _, tr := range m.ToolResults {
			blocks = append(blocks, sdk.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		return sdk.NewUserMessage(blocks...), nil
	case llm.RoleAssistant:
		blocks := []sdk.ContentBlockParamUnion{}
		if m.Text != "" {
			blocks = append(blocks, sdk.NewTextBlock(m.Text))
		}
		for _, tc := range m.ToolCalls {
			blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, tc.Input, tc.Name))
		}
		return sdk.NewAssistantMessage(blocks...), nil
	default:
		return sdk.MessageParam{}, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
	}
}

func toInputSchema(schema map[string]any) (sdk.ToolInputSchemaParam, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	var decoded struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{
		Properties: decoded.Properties,
		Required:   decoded.Required,
	}, nil
}

// RetryableError wraps an error the caller should retry (HTTP 429/5xx and
// transport-level failures), satisfying llm.ClassifyError's Retryable check.
type RetryableError struct{ err error }

func (e *RetryableError) Error() string  { return e.err.Error() }
func (e *RetryableError) Unwrap() error  { return e.err }
func (e *RetryableError) Retryable() bool { return true }

// classify wraps err as RetryableError when it looks transient (a 429 or
// 5xx from the SDK's typed APIError, or a network-level failure).
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return &RetryableError{err: err}
		}
		return err
	}
	if strings.Contains(err.Error(), "connection reset") || strings.Contains(err.Error(), "EOF") {
		return &RetryableError{err: err}
	}
	return err
}
