package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/mirador-chatops/internal/utils"
)

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// postJSON sends payload and decodes the 2xx response into out. Transport
// failures and non-2xx statuses are reported as upstream unavailability.
func postJSON(ctx context.Context, client *http.Client, op, endpoint string, payload any, headers map[string]string, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return utils.NewKindError(utils.ErrUpstreamUnavailable, op, "request failed", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return utils.NewKindError(utils.ErrUpstreamUnavailable, op, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return utils.NewKindError(utils.ErrUpstreamUnavailable, op,
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))), nil)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return utils.NewKindError(utils.ErrValidation, op, "decode response", err)
	}
	return nil
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + path
}
