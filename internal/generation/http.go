package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// maxErrorBody caps how much of an error response is kept in messages.
const maxErrorBody = 512

// doJSON performs one JSON request and decodes the response into out.
// Every failure is returned as a *Error.
func doJSON(ctx context.Context, client *http.Client, method, url string, body, out interface{}, op string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindService, Op: op, Message: "failed to marshal request", Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Message: "failed to create request", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return classifyTransport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{Kind: KindService, Op: op, Status: resp.StatusCode, Message: detailOf(msg)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return classifyTransport(op, ctx.Err())
		}
		return &Error{Kind: KindService, Op: op, Message: "malformed response", Err: err}
	}
	return nil
}

// classifyTransport maps a client.Do error onto timeout or network.
func classifyTransport(op string, err error) *Error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

// detailOf pulls {"detail": "..."} or {"error": "..."} out of an error body,
// falling back to the raw text.
func detailOf(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Detail != "" {
			return payload.Detail
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(body))
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// ImageFetcher downloads image bytes referenced by a generator result.
type ImageFetcher struct {
	baseURL string
	client  *http.Client
}

// NewImageFetcher resolves relative references against baseURL.
func NewImageFetcher(baseURL string, client *http.Client) *ImageFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &ImageFetcher{baseURL: baseURL, client: client}
}

// Fetch returns the body of ref. Absolute URLs are used as-is.
func (f *ImageFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	url := ref
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		url = joinURL(f.baseURL, ref)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: "fetch image", Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransport("fetch image", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: KindService, Op: "fetch image", Status: resp.StatusCode, Message: fmt.Sprintf("GET %s", url)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport("fetch image", err)
	}
	return data, nil
}
