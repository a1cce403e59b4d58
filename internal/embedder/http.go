package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/54b3r/kbqa-go/internal/rag"
)

// maxResponseBytes caps how much of an embedding response is read.
const maxResponseBytes = 64 << 20

// postJSON sends body as JSON to url and decodes a 2xx response into out.
// Transport failures and 5xx/429 responses are ModelUnavailable; other 4xx
// responses and undecodable payloads are EmbeddingError. errMsg extracts a
// provider error message from a non-2xx body.
func postJSON(ctx context.Context, client *http.Client, op, url string, header http.Header, body, out any, errMsg func([]byte) string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return rag.Errorf(rag.KindEmbedding, op, "marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return rag.Errorf(rag.KindModelUnavailable, op, "create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return rag.Errorf(rag.KindModelUnavailable, op, "request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return rag.Errorf(rag.KindModelUnavailable, op, "read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if m := errMsg(raw); m != "" {
			msg = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, m)
		}
		kind := rag.KindEmbedding
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = rag.KindModelUnavailable
		}
		return rag.Errorf(kind, op, "%s", msg)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return rag.Errorf(rag.KindEmbedding, op, "decode response: %w", err)
	}
	return nil
}
