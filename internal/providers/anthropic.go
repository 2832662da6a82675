package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/inferoute/inferoute/internal/models"
	"github.com/sethvargo/go-retry"
)

// AnthropicAdapter invokes the Anthropic messages API.
type AnthropicAdapter struct {
	descriptor Descriptor
	config     Config
	client     *http.Client
}

// NewAnthropicAdapter creates an adapter for the given descriptor.
func NewAnthropicAdapter(descriptor Descriptor, config Config) *AnthropicAdapter {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.anthropic.com/v1"
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaultRetryDelay
	}
	// retry.WithMaxRetries takes a uint64; a negative count must mean zero
	// retries, not an unbounded loop.
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &AnthropicAdapter{
		descriptor: descriptor,
		config:     config,
		client:     config.httpClient(),
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Invoke sends the conversation to Anthropic. System messages are lifted into
// the top-level system field per the messages API contract.
func (a *AnthropicAdapter) Invoke(ctx context.Context, messages []models.Message, reqctx models.RequestContext) (*InvokeResult, error) {
	payload := anthropicRequest{Model: a.config.Model, MaxTokens: 4096}
	for _, m := range messages {
		if m.Role == "system" {
			payload.System = m.Content
			continue
		}
		payload.Messages = append(payload.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &AttemptError{Provider: a.descriptor.ID, Kind: FailureMalformed, Err: err}
	}

	var result *InvokeResult
	backoff := retry.WithMaxRetries(uint64(a.config.MaxRetries), retry.NewConstant(a.config.RetryDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		result, err = a.send(ctx, body)
		if err != nil {
			err = translateTransport(a.descriptor.ID, err)
			var attempt *AttemptError
			if errors.As(err, &attempt) && attempt.Kind == FailureUnavailable {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, translateTransport(a.descriptor.ID, err)
	}
	return result, nil
}

func (a *AnthropicAdapter) send(ctx context.Context, body []byte) (*InvokeResult, error) {
	url := fmt.Sprintf("%s/messages", a.config.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &AttemptError{
			Provider: a.descriptor.ID,
			Kind:     kindForStatus(resp.StatusCode),
			Err:      fmt.Errorf("anthropic api status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &AttemptError{Provider: a.descriptor.ID, Kind: FailureMalformed, Err: err}
	}
	if len(apiResp.Content) == 0 {
		return nil, &AttemptError{
			Provider: a.descriptor.ID,
			Kind:     FailureMalformed,
			Err:      fmt.Errorf("anthropic api returned no content"),
		}
	}

	tokens := apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens
	return &InvokeResult{
		Content:      apiResp.Content[0].Text,
		TokensUsed:   tokens,
		CostIncurred: a.descriptor.EstimatedCost(tokens),
	}, nil
}

// Close releases idle connections.
func (a *AnthropicAdapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
