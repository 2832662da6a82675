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

// OpenAIAdapter invokes the OpenAI chat completions API.
type OpenAIAdapter struct {
	descriptor Descriptor
	config     Config
	client     *http.Client
}

// NewOpenAIAdapter creates an adapter for the given descriptor. The
// descriptor's cost figures are used to price actual token usage.
func NewOpenAIAdapter(descriptor Descriptor, config Config) *OpenAIAdapter {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaultRetryDelay
	}
	// retry.WithMaxRetries takes a uint64; a negative count must mean zero
	// retries, not an unbounded loop.
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &OpenAIAdapter{
		descriptor: descriptor,
		config:     config,
		client:     config.httpClient(),
	}
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Invoke sends the conversation to OpenAI and translates any failure into a
// single FailureKind.
func (a *OpenAIAdapter) Invoke(ctx context.Context, messages []models.Message, reqctx models.RequestContext) (*InvokeResult, error) {
	payload := openAIRequest{Model: a.config.Model}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, openAIMessage{Role: m.Role, Content: m.Content})
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

func (a *OpenAIAdapter) send(ctx context.Context, body []byte) (*InvokeResult, error) {
	url := fmt.Sprintf("%s/chat/completions", a.config.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)

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
			Err:      fmt.Errorf("openai api status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var apiResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &AttemptError{Provider: a.descriptor.ID, Kind: FailureMalformed, Err: err}
	}
	if len(apiResp.Choices) == 0 {
		return nil, &AttemptError{
			Provider: a.descriptor.ID,
			Kind:     FailureMalformed,
			Err:      fmt.Errorf("openai api returned no choices"),
		}
	}

	tokens := apiResp.Usage.TotalTokens
	return &InvokeResult{
		Content:      apiResp.Choices[0].Message.Content,
		TokensUsed:   tokens,
		CostIncurred: a.descriptor.EstimatedCost(tokens),
	}, nil
}

// Close releases idle connections.
func (a *OpenAIAdapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
