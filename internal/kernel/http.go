package kernel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPTransport talks to a Jupyter-style kernel gateway over its REST
// API. Execution output is streamed back as newline-delimited JSON.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a transport with a bounded request timeout
// for control calls. Execute streams are governed by the caller's
// context instead, since a run may legitimately take minutes.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{Timeout: 0},
	}
}

var _ Transport = (*HTTPTransport)(nil)

func (t *HTTPTransport) do(ctx context.Context, srv Server, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("kernel: marshal request: %w", err)
		}
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, srv.BaseURL()+path, rd)
	if err != nil {
		return nil, fmt.Errorf("kernel: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if srv.Token != "" {
		req.Header.Set("Authorization", "token "+srv.Token)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kernel: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// Connect starts a kernel session and returns its id.
func (t *HTTPTransport) Connect(ctx context.Context, srv Server, kernelName string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	resp, err := t.do(ctx, srv, http.MethodPost, "/api/sessions", map[string]any{
		"kernel": map[string]string{"name": kernelName},
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("kernel: create session: status %d", resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("kernel: decode session: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("kernel: create session: empty id")
	}
	return out.ID, nil
}

// Execute submits code and streams NDJSON output lines until the server
// signals completion.
func (t *HTTPTransport) Execute(ctx context.Context, srv Server, sessionID, code string, onChunk func(Chunk)) error {
	resp, err := t.do(ctx, srv, http.MethodPost, "/api/sessions/"+sessionID+"/execute", map[string]string{
		"code": code,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kernel: execute: status %d", resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg struct {
			Type   string `json:"type"` // "stream", "result", "error", "done"
			Stream string `json:"stream"`
			Text   string `json:"text"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			// A garbled frame is not fatal to the stream; skip it.
			continue
		}
		switch msg.Type {
		case "stream":
			if onChunk != nil {
				onChunk(Chunk{Stream: msg.Stream, Text: msg.Text})
			}
		case "result":
			if onChunk != nil {
				onChunk(Chunk{Stream: "rich", Text: msg.Text})
			}
		case "error":
			return fmt.Errorf("kernel: execution failed: %s", msg.Error)
		case "done":
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("kernel: read stream: %w", err)
	}
	return nil
}

// ListKernels returns the kernel specs advertised by the server.
func (t *HTTPTransport) ListKernels(ctx context.Context, srv Server) ([]Spec, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := t.do(ctx, srv, http.MethodGet, "/api/kernelspecs", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kernel: list kernels: status %d", resp.StatusCode)
	}
	var out struct {
		Kernelspecs map[string]struct {
			Spec struct {
				DisplayName string `json:"display_name"`
				Language    string `json:"language"`
			} `json:"spec"`
		} `json:"kernelspecs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("kernel: decode kernelspecs: %w", err)
	}
	specs := make([]Spec, 0, len(out.Kernelspecs))
	for name, ks := range out.Kernelspecs {
		specs = append(specs, Spec{Name: name, DisplayName: ks.Spec.DisplayName, Language: ks.Spec.Language})
	}
	return specs, nil
}

// TestConnection probes the server's status endpoint.
func (t *HTTPTransport) TestConnection(ctx context.Context, srv Server) ConnStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := t.do(ctx, srv, http.MethodGet, "/api/status", nil)
	if err != nil {
		return ConnStatus{Success: false, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ConnStatus{Success: false, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return ConnStatus{Success: true, Message: "ok"}
}

// Shutdown deletes a remote session.
func (t *HTTPTransport) Shutdown(ctx context.Context, srv Server, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := t.do(ctx, srv, http.MethodDelete, "/api/sessions/"+sessionID, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kernel: shutdown session: status %d", resp.StatusCode)
	}
	return nil
}
