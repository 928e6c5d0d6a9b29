package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SendJSON sends a JSON request to a full URL with optional headers and returns the raw response body.
// It does not assume any provider. Callers decide the URL and headers.
// On a non-2xx status the body and status are returned together with an error.
func SendJSON(ctx context.Context, client *http.Client, url string, body any, headers map[string]string, logger *zap.Logger) ([]byte, int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}

	reqID := uuid.New().String()
	start := time.Now()

	bs, err := json.Marshal(body)
	if err != nil {
		logger.Error("llm.http.encode_error", zap.String("req_id", reqID), zap.Error(err))
		return nil, 0, fmt.Errorf("encode json: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		logger.Error("llm.http.build_request_error", zap.String("req_id", reqID), zap.Error(err))
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	// Default headers; allow caller overrides.
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	logger.Debug("llm.http.request",
		zap.String("req_id", reqID),
		zap.String("url", url),
		zap.Int("content_length", len(bs)),
	)

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("llm.http.send_error", zap.String("req_id", reqID), zap.Error(err), zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return nil, 0, err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logger.Warn("llm.http.response_body_close_error", zap.String("req_id", reqID), zap.Error(err))
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	logger.Debug("llm.http.response",
		zap.String("req_id", reqID),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)

	if resp.StatusCode/100 != 2 {
		return raw, resp.StatusCode, fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return raw, resp.StatusCode, nil
}
