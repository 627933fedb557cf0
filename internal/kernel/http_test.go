package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
)

func gatewayServer(t *testing.T, handler http.Handler) Server {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)
	return Server{Name: "test", Host: host, Port: port, Token: "tkn"}
}

func TestConnectCreatesSession(t *testing.T) {
	var gotAuth, gotKernel string
	srv := gatewayServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Kernel struct {
				Name string `json:"name"`
			} `json:"kernel"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotKernel = body.Kernel.Name
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"sess-123"}`)
	}))

	id, err := NewHTTPTransport().Connect(context.Background(), srv, "python3")
	if err != nil {
		t.Fatal(err)
	}
	if id != "sess-123" {
		t.Errorf("id = %q", id)
	}
	if gotAuth != "token tkn" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotKernel != "python3" {
		t.Errorf("kernel = %q", gotKernel)
	}
}

func TestConnectRejectsEmptyID(t *testing.T) {
	srv := gatewayServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	if _, err := NewHTTPTransport().Connect(context.Background(), srv, "python3"); err == nil {
		t.Fatal("expected error for empty session id")
	}
}

func TestExecuteStreamsChunksUntilDone(t *testing.T) {
	srv := gatewayServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/sess-123/execute" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprintln(w, `{"type":"stream","stream":"stdout","text":"1"}`)
		fmt.Fprintln(w, `not json, skipped`)
		fmt.Fprintln(w, `{"type":"stream","stream":"stderr","text":"warn"}`)
		fmt.Fprintln(w, `{"type":"result","text":"<b>2</b>"}`)
		fmt.Fprintln(w, `{"type":"done"}`)
		fmt.Fprintln(w, `{"type":"stream","stream":"stdout","text":"after done, ignored"}`)
	}))

	var chunks []Chunk
	err := NewHTTPTransport().Execute(context.Background(), srv, "sess-123", "print(1)", func(c Chunk) {
		chunks = append(chunks, c)
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []Chunk{
		{Stream: "stdout", Text: "1"},
		{Stream: "stderr", Text: "warn"},
		{Stream: "rich", Text: "<b>2</b>"},
	}
	if len(chunks) != len(want) {
		t.Fatalf("chunks = %+v", chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d = %+v, want %+v", i, chunks[i], want[i])
		}
	}
}

func TestExecuteSurfacesRemoteError(t *testing.T) {
	srv := gatewayServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"type":"error","error":"NameError: x"}`)
	}))
	err := NewHTTPTransport().Execute(context.Background(), srv, "s", "x", nil)
	if err == nil {
		t.Fatal("expected execution error")
	}
}

func TestListKernels(t *testing.T) {
	srv := gatewayServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/kernelspecs" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"kernelspecs":{"python3":{"spec":{"display_name":"Python 3","language":"python"}}}}`)
	}))

	specs, err := NewHTTPTransport().ListKernels(context.Background(), srv)
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 1 || specs[0].Name != "python3" || specs[0].Language != "python" {
		t.Errorf("specs = %+v", specs)
	}
}

func TestTestConnection(t *testing.T) {
	srv := gatewayServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/status" {
			fmt.Fprint(w, `{"started":"now"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	st := NewHTTPTransport().TestConnection(context.Background(), srv)
	if !st.Success {
		t.Errorf("probe failed: %s", st.Message)
	}

	down := Server{Name: "down", Host: "127.0.0.1", Port: 1}
	if st := NewHTTPTransport().TestConnection(context.Background(), down); st.Success {
		t.Error("probe against closed port must fail")
	}
}

func TestShutdownDeletesSession(t *testing.T) {
	var gotMethod, gotPath string
	srv := gatewayServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := NewHTTPTransport().Shutdown(context.Background(), srv, "sess-9"); err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/api/sessions/sess-9" {
		t.Errorf("%s %s", gotMethod, gotPath)
	}
}
