package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/inferoute/inferoute/internal/models"
)

// OllamaAdapter invokes a local Ollama daemon. Local execution is free, so
// CostIncurred is always zero regardless of descriptor cost figures.
type OllamaAdapter struct {
	descriptor Descriptor
	config     Config
	client     *http.Client
}

// NewOllamaAdapter creates an adapter talking to a local Ollama instance.
func NewOllamaAdapter(descriptor Descriptor, config Config) *OllamaAdapter {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:11434"
	}
	return &OllamaAdapter{
		descriptor: descriptor,
		config:     config,
		client:     config.httpClient(),
	}
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Done            bool          `json:"done"`
}

// Invoke runs the conversation against the local model. There is no retry
// layer here: the daemon either answers or it is down.
func (a *OllamaAdapter) Invoke(ctx context.Context, messages []models.Message, reqctx models.RequestContext) (*InvokeResult, error) {
	payload := ollamaRequest{Model: a.config.Model, Stream: false}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &AttemptError{Provider: a.descriptor.ID, Kind: FailureMalformed, Err: err}
	}

	url := fmt.Sprintf("%s/api/chat", a.config.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &AttemptError{Provider: a.descriptor.ID, Kind: FailureMalformed, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, translateTransport(a.descriptor.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &AttemptError{
			Provider: a.descriptor.ID,
			Kind:     kindForStatus(resp.StatusCode),
			Err:      fmt.Errorf("ollama status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var apiResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &AttemptError{Provider: a.descriptor.ID, Kind: FailureMalformed, Err: err}
	}

	return &InvokeResult{
		Content:    apiResp.Message.Content,
		TokensUsed: apiResp.PromptEvalCount + apiResp.EvalCount,
	}, nil
}

// Close releases idle connections.
func (a *OllamaAdapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
