package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/imageapp/api"
	"github.com/chaos-io/imageapp/config"
	"github.com/chaos-io/imageapp/generator"
	"github.com/chaos-io/imageapp/upload"
	"github.com/chaos-io/imageapp/worker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type nopRemover struct{}

func (nopRemover) Remove(_ context.Context, img image.Image) (image.Image, error) {
	return img, nil
}

type staticGenerator string

func (g staticGenerator) Generate(context.Context, string) (string, error) { return string(g), nil }
func (g staticGenerator) Close() error                                    { return nil }

func testConfig() config.Config {
	return config.Config{
		Env:               "test",
		Port:              5001,
		InstanceID:        "t",
		MaxContentLength:  1024,
		Workers:           1,
		RateLimit:         3,
		RateWindow:        time.Minute,
		ReadHeaderTimeout: time.Second,
	}
}

func newTestServer(t *testing.T, cfg config.Config, gen generator.Generator) *Server {
	t.Helper()
	store, err := upload.NewStore(t.TempDir())
	require.NoError(t, err)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h := api.NewHandler(nopRemover{}, gen, worker.NewPool(cfg.Workers), store, api.Options{InstanceID: cfg.InstanceID}, logger)
	return New(cfg, logger, h)
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, testConfig(), staticGenerator(""))

	w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "t", resp["instance"])
}

func TestServer_RequestIDPassthrough(t *testing.T) {
	s := newTestServer(t, testConfig(), staticGenerator(""))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := serve(s, req)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestServer_GenerateImage(t *testing.T) {
	s := newTestServer(t, testConfig(), staticGenerator("https://img.example.com/x.png"))

	req := httptest.NewRequest(http.MethodPost, "/generate-image", strings.NewReader(`{"prompt":"dog"}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(s, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "https://img.example.com/x.png")
}

func TestServer_BodyTooLarge(t *testing.T) {
	s := newTestServer(t, testConfig(), staticGenerator(""))

	body := bytes.Repeat([]byte("a"), 2048)
	req := httptest.NewRequest(http.MethodPost, "/remove-background", bytes.NewReader(body))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	w := serve(s, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.JSONEq(t, `{"error":"File too large"}`, w.Body.String())
}

func TestServer_BodyTooLargeWithoutContentLength(t *testing.T) {
	s := newTestServer(t, testConfig(), staticGenerator(""))

	prompt := strings.Repeat("a", 2048)
	req := httptest.NewRequest(http.MethodPost, "/generate-image", io.NopCloser(strings.NewReader(`{"prompt":"`+prompt+`"}`)))
	req.ContentLength = -1
	w := serve(s, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig()
	s := newTestServer(t, cfg, staticGenerator("u"))

	var last *httptest.ResponseRecorder
	for i := 0; i < cfg.RateLimit+1; i++ {
		req := httptest.NewRequest(http.MethodPost, "/generate-image", strings.NewReader(`{"prompt":"dog"}`))
		req.RemoteAddr = "203.0.113.9:5555"
		last = serve(s, req)
		if i < cfg.RateLimit {
			require.Equal(t, http.StatusOK, last.Code, "request %d", i)
		}
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Equal(t, "60", last.Header().Get("Retry-After"))

	// 其他 IP 和 GET 接口不受影响
	req := httptest.NewRequest(http.MethodPost, "/generate-image", strings.NewReader(`{"prompt":"dog"}`))
	req.RemoteAddr = "203.0.113.10:5555"
	assert.Equal(t, http.StatusOK, serve(s, req).Code)

	health := httptest.NewRequest(http.MethodGet, "/health", nil)
	health.RemoteAddr = "203.0.113.9:5555"
	assert.Equal(t, http.StatusOK, serve(s, health).Code)
}

func TestServer_Recovery(t *testing.T) {
	s := newTestServer(t, testConfig(), staticGenerator(""))
	s.engine.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"boom"}`, w.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t, testConfig(), staticGenerator(""))
	serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))

	w := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `imageapp_http_requests_total{code="200",route="/health"}`)
}

func TestServer_RunShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.Port = 0
	s := newTestServer(t, cfg, staticGenerator(""))
	s.server.Addr = "127.0.0.1:0"

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run()
	}()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}
