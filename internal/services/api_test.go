package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/desertthunder/sumstream/internal/shared"
	tu "github.com/desertthunder/sumstream/internal/testing"
)

func TestAPIService(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		t.Run("With Custom BaseURL and Client", func(t *testing.T) {
			customClient := &http.Client{}
			srv := NewAPIService("http://example.com/", customClient)

			if srv.BaseURL() != "http://example.com" {
				t.Errorf("expected trailing slash trimmed, got %s", srv.BaseURL())
			}
			if srv.httpClient != customClient {
				t.Error("expected custom client to be used")
			}
		})

		t.Run("With Empty BaseURL", func(t *testing.T) {
			srv := NewAPIService("", nil)

			if srv.baseURL != "http://127.0.0.1:8000" {
				t.Errorf("expected default baseURL, got %s", srv.baseURL)
			}
			if srv.httpClient != http.DefaultClient {
				t.Error("expected http.DefaultClient to be used")
			}
		})
	})

	t.Run("Post", func(t *testing.T) {
		t.Run("Sends Bearer And JSON Body", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("expected POST method, got %s", r.Method)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer secret" {
					t.Errorf("expected bearer header, got %q", got)
				}
				if got := r.Header.Get("Content-Type"); got != "application/json" {
					t.Errorf("expected JSON content type, got %q", got)
				}
				body, _ := io.ReadAll(r.Body)
				if string(body) != `{"purpose":"projects"}` {
					t.Errorf("unexpected body %s", body)
				}

				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
			}))
			defer server.Close()

			srv := NewAPIService(server.URL, nil)
			resp, err := srv.Post(context.Background(), "/x", "secret", []byte(`{"purpose":"projects"}`))
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if resp.StatusCode != http.StatusOK || !resp.IsJSON {
				t.Errorf("unexpected response %+v", resp)
			}
		})

		t.Run("Non-JSON Response", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				w.Write([]byte("bad gateway"))
			}))
			defer server.Close()

			resp, err := NewAPIService(server.URL, nil).Get(context.Background(), "/", "")
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if resp.IsJSON {
				t.Error("expected non-JSON response")
			}
			if string(resp.Body) != "bad gateway" {
				t.Errorf("unexpected body %q", resp.Body)
			}
		})

		t.Run("Transport Failure Wraps ErrAPIRequest", func(t *testing.T) {
			client := &http.Client{Transport: tu.NewMockRoundTripper(nil, errors.New("connection refused"))}
			_, err := NewAPIService("http://example.com", client).Post(context.Background(), "/", "", nil)

			if !errors.Is(err, shared.ErrAPIRequest) {
				t.Errorf("expected ErrAPIRequest, got %v", err)
			}
		})

		t.Run("Body Read Failure", func(t *testing.T) {
			resp := &http.Response{StatusCode: http.StatusOK, Body: &tu.FCloser{}, Header: http.Header{}}
			client := &http.Client{Transport: tu.NewMockRoundTripper(resp, nil)}
			_, err := NewAPIService("http://example.com", client).Get(context.Background(), "/", "")

			if err == nil {
				t.Error("expected read error")
			}
		})
	})
}

func TestStatusError(t *testing.T) {
	tc := []struct {
		name      string
		err       error
		transient bool
		code      int
	}{
		{"503 Is Transient", &StatusError{StatusCode: 503}, true, 503},
		{"500 Is Transient", &StatusError{StatusCode: 500}, true, 500},
		{"429 Is Transient", &StatusError{StatusCode: 429}, true, 429},
		{"401 Is Permanent", &StatusError{StatusCode: 401}, false, 401},
		{"404 Is Permanent", &StatusError{StatusCode: 404}, false, 404},
		{"No Status Is Transient", errors.New("dial tcp: timeout"), true, 0},
		{"Wrapped Status", errors.Join(errors.New("ctx"), &StatusError{StatusCode: 403}), false, 403},
		{"Nil Is Not Transient", nil, false, 0},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient() = %v, want %v", got, tt.transient)
			}
			if got := StatusCode(tt.err); got != tt.code {
				t.Errorf("StatusCode() = %d, want %d", got, tt.code)
			}
		})
	}

	t.Run("Message Includes Body", func(t *testing.T) {
		err := &StatusError{StatusCode: 401, Body: "expired"}
		if err.Error() != "HTTP 401 Unauthorized: expired" {
			t.Errorf("unexpected message %q", err.Error())
		}
	})
}
