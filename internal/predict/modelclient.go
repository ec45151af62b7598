package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ModelClient is a thin HTTP/JSON wrapper over one model's Tick/Predict RPC
// surface, reached over a plain HTTP call set rather than a specific wire
// protocol.
type ModelClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewModelClient creates a ModelClient against host:port.
func NewModelClient(host string, port int) *ModelClient {
	return &ModelClient{
		BaseURL:    fmt.Sprintf("http://%s:%d", host, port),
		HTTPClient: &http.Client{},
	}
}

// Tick primes modelID before a predict batch, per ModelInfo.RequiresTick.
func (c *ModelClient) Tick(ctx context.Context, modelID string, input json.RawMessage) error {
	return c.doRequestWithContext(ctx, "/models/"+modelID+"/tick", input, nil)
}

// Predict invokes modelID's Predict with inferenceInput, returning the raw
// inference output document for shape validation by the caller.
func (c *ModelClient) Predict(ctx context.Context, modelID string, inferenceInput json.RawMessage) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.doRequestWithContext(ctx, "/models/"+modelID+"/predict", inferenceInput, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ModelClient) doRequestWithContext(ctx context.Context, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.Unmarshal(data, &apiErr)
		return fmt.Errorf("model returned %d: %s", resp.StatusCode, apiErr.Error)
	}

	if result != nil {
		return json.Unmarshal(data, result)
	}
	return nil
}
