package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/desertthunder/detectx/internal/shared"
	tu "github.com/desertthunder/detectx/internal/testing"
)

func newTestControlPlane(t *testing.T, handler http.HandlerFunc) (*ControlPlane, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	cfg := shared.ControlPlaneConfig{BaseURL: server.URL, Token: "secret"}
	return NewControlPlane(cfg, nil, shared.NewLogger(io.Discard)), &hits
}

func TestControlPlane(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		t.Run("With Empty BaseURL", func(t *testing.T) {
			cp := NewControlPlane(shared.ControlPlaneConfig{}, nil, nil)
			if cp.baseURL != defaultBaseURL {
				t.Errorf("expected default baseURL %s, got %s", defaultBaseURL, cp.baseURL)
			}
		})

		t.Run("Trims Trailing Slash", func(t *testing.T) {
			cp := NewControlPlane(shared.ControlPlaneConfig{BaseURL: "http://x.test/"}, nil, nil)
			if cp.baseURL != "http://x.test" {
				t.Errorf("expected trimmed baseURL, got %s", cp.baseURL)
			}
		})

		t.Run("With Custom Client And No Token", func(t *testing.T) {
			client := &http.Client{}
			cp := NewControlPlane(shared.ControlPlaneConfig{BaseURL: "http://x.test"}, client, nil)
			if cp.httpClient != client {
				t.Error("expected custom client to be used")
			}
		})
	})

	t.Run("RequestCredential", func(t *testing.T) {
		t.Run("Success", func(t *testing.T) {
			cp, _ := newTestControlPlane(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/get-presigned-url" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer secret" {
					t.Errorf("expected bearer token, got %q", got)
				}

				var body map[string]string
				json.NewDecoder(r.Body).Decode(&body)
				if body["fileName"] != "clip.mp4" {
					t.Errorf("expected fileName clip.mp4, got %v", body)
				}

				json.NewEncoder(w).Encode(map[string]string{"url": "https://store.test/put", "bucket": "b1", "key": "k1"})
			})

			cred, err := cp.RequestCredential(context.Background(), "clip.mp4")
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if cred.DestinationURL != "https://store.test/put" || cred.ContainerID != "b1" || cred.ObjectKey != "k1" {
				t.Errorf("unexpected credential %+v", cred)
			}
		})

		t.Run("Empty File Name Makes No Call", func(t *testing.T) {
			cp, hits := newTestControlPlane(t, func(w http.ResponseWriter, r *http.Request) {})

			_, err := cp.RequestCredential(context.Background(), " ")
			if !errors.Is(err, shared.ErrPrecondition) {
				t.Errorf("expected ErrPrecondition, got %v", err)
			}
			if hits.Load() != 0 {
				t.Errorf("expected no requests, got %d", hits.Load())
			}
		})

		t.Run("Server Error", func(t *testing.T) {
			cp, _ := newTestControlPlane(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"bucket unavailable"}`))
			})

			_, err := cp.RequestCredential(context.Background(), "clip.mp4")
			var cpe *shared.ControlPlaneError
			if !errors.As(err, &cpe) {
				t.Fatalf("expected ControlPlaneError, got %v", err)
			}
			if cpe.StatusCode != http.StatusInternalServerError || cpe.Detail != "bucket unavailable" {
				t.Errorf("unexpected error fields %+v", cpe)
			}
		})

		t.Run("Incomplete Credential", func(t *testing.T) {
			cp, _ := newTestControlPlane(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"url":"https://store.test/put"}`))
			})

			if _, err := cp.RequestCredential(context.Background(), "clip.mp4"); !errors.Is(err, shared.ErrControlPlane) {
				t.Errorf("expected ErrControlPlane, got %v", err)
			}
		})
	})

	t.Run("StartTask", func(t *testing.T) {
		t.Run("Empty Identifiers Make No Call", func(t *testing.T) {
			cp, hits := newTestControlPlane(t, func(w http.ResponseWriter, r *http.Request) {})

			tc := []TaskRequest{
				{},
				{ContainerID: "b"},
				{ObjectKey: "k"},
			}
			for _, req := range tc {
				_, err := cp.StartTask(context.Background(), req)
				var pe *shared.PreconditionError
				if !errors.As(err, &pe) {
					t.Errorf("expected PreconditionError for %+v, got %v", req, err)
				}
			}
			if hits.Load() != 0 {
				t.Errorf("expected no requests, got %d", hits.Load())
			}
		})

		t.Run("Sends Classes Only With Module", func(t *testing.T) {
			tc := []struct {
				name        string
				req         TaskRequest
				wantModule  string
				wantClasses int
			}{
				{name: "no module", req: TaskRequest{ContainerID: "b", ObjectKey: "k", SelectedClasses: []string{"car"}}},
				{name: "with module", req: TaskRequest{ContainerID: "b", ObjectKey: "k", ModuleName: "logos", SelectedClasses: []string{"car", "bus"}}, wantModule: "logos", wantClasses: 2},
			}

			for _, tt := range tc {
				t.Run(tt.name, func(t *testing.T) {
					cp, _ := newTestControlPlane(t, func(w http.ResponseWriter, r *http.Request) {
						var body startTaskRequest
						json.NewDecoder(r.Body).Decode(&body)
						if body.Bucket != "b" || body.Key != "k" {
							t.Errorf("unexpected identifiers %+v", body)
						}
						if body.ModuleName != tt.wantModule || len(body.ClassNames) != tt.wantClasses {
							t.Errorf("unexpected module/classes %+v", body)
						}
						w.Write([]byte(`{"taskId":"t-1"}`))
					})

					id, err := cp.StartTask(context.Background(), tt.req)
					if err != nil {
						t.Fatalf("expected no error, got %v", err)
					}
					if id != "t-1" {
						t.Errorf("expected task id t-1, got %s", id)
					}
				})
			}
		})

		t.Run("Missing Task ID", func(t *testing.T) {
			cp, _ := newTestControlPlane(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{}`))
			})

			if _, err := cp.StartTask(context.Background(), TaskRequest{ContainerID: "b", ObjectKey: "k"}); !errors.Is(err, shared.ErrControlPlane) {
				t.Errorf("expected ErrControlPlane, got %v", err)
			}
		})
	})

	t.Run("Catalog", func(t *testing.T) {
		t.Run("ListModules", func(t *testing.T) {
			cp, _ := newTestControlPlane(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/get-modules" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				w.Write([]byte(`{"modules":["logos","vehicles"]}`))
			})

			modules, err := cp.ListModules(context.Background())
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if strings.Join(modules, ",") != "logos,vehicles" {
				t.Errorf("unexpected modules %v", modules)
			}
		})

		t.Run("ListClasses", func(t *testing.T) {
			tc := []struct {
				name string
				body string
				want string
			}{
				{name: "object ordered numerically", body: `{"classes":{"10":"truck","2":"car","0":"person"}}`, want: "person,car,truck"},
				{name: "array", body: `{"classes":["a","b"]}`, want: "a,b"},
				{name: "missing", body: `{}`, want: ""},
			}

			for _, tt := range tc {
				t.Run(tt.name, func(t *testing.T) {
					cp, _ := newTestControlPlane(t, func(w http.ResponseWriter, r *http.Request) {
						if r.URL.Query().Get("filename") != "logos v2" {
							t.Errorf("expected module in query, got %q", r.URL.RawQuery)
						}
						w.Write([]byte(tt.body))
					})

					classes, err := cp.ListClasses(context.Background(), "logos v2")
					if err != nil {
						t.Fatalf("expected no error, got %v", err)
					}
					if got := strings.Join(classes, ","); got != tt.want {
						t.Errorf("ListClasses() = %q, want %q", got, tt.want)
					}
				})
			}
		})

		t.Run("ListClasses Requires Module", func(t *testing.T) {
			cp, hits := newTestControlPlane(t, func(w http.ResponseWriter, r *http.Request) {})
			if _, err := cp.ListClasses(context.Background(), ""); !errors.Is(err, shared.ErrPrecondition) {
				t.Errorf("expected ErrPrecondition, got %v", err)
			}
			if hits.Load() != 0 {
				t.Error("expected no requests")
			}
		})
	})

	t.Run("Failures", func(t *testing.T) {
		t.Run("Failed HTTP Request", func(t *testing.T) {
			client := &http.Client{Transport: tu.NewMockRoundTripper(nil, errors.New("connection failed"))}
			cp := NewControlPlane(shared.ControlPlaneConfig{BaseURL: "http://x.test"}, client, shared.NewLogger(io.Discard))

			_, err := cp.ListModules(context.Background())
			if !errors.Is(err, shared.ErrControlPlane) {
				t.Errorf("expected ErrControlPlane, got %v", err)
			}
			if !strings.Contains(err.Error(), "connection failed") {
				t.Errorf("expected cause in message, got %v", err)
			}
		})

		t.Run("Failed Response Body Read", func(t *testing.T) {
			client := &http.Client{Transport: tu.NewMockRoundTripper(&http.Response{
				StatusCode: http.StatusOK,
				Body:       &tu.FCloser{},
				Header:     make(http.Header),
			}, nil)}
			cp := NewControlPlane(shared.ControlPlaneConfig{BaseURL: "http://x.test"}, client, shared.NewLogger(io.Discard))

			if _, err := cp.ListModules(context.Background()); !errors.Is(err, shared.ErrControlPlane) {
				t.Errorf("expected ErrControlPlane, got %v", err)
			}
		})

		t.Run("With Canceled Context", func(t *testing.T) {
			cp, _ := newTestControlPlane(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"modules":[]}`))
			})

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			if _, err := cp.ListModules(ctx); !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		})

		t.Run("Plain Text Error Body", func(t *testing.T) {
			cp, _ := newTestControlPlane(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, strings.Repeat("x", 500), http.StatusBadGateway)
			})

			_, err := cp.ListModules(context.Background())
			var cpe *shared.ControlPlaneError
			if !errors.As(err, &cpe) {
				t.Fatalf("expected ControlPlaneError, got %v", err)
			}
			if len(cpe.Detail) > maxErrorDetail+3 {
				t.Errorf("expected truncated detail, got %d bytes", len(cpe.Detail))
			}
		})
	})
}
