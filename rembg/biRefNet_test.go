package rembg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/chaos-io/imageapp/imgproc"
	nhttp "github.com/chaos-io/imageapp/util/http"
	"github.com/chaos-io/imageapp/util/http/mocks"
)

// fakeComfyUI 模拟 ComfyUI 的上传、提交、history、view 接口
func fakeComfyUI(t *testing.T, pendingPolls int32, status string) *httptest.Server {
	t.Helper()

	cutout := fill(3, 2, color.NRGBA{R: 1, G: 2, B: 3, A: 0})
	var out bytes.Buffer
	require.NoError(t, imgproc.EncodePNG(&out, cutout))

	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload/image", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "input", r.FormValue("type"))
		f, hdr, err := r.FormFile("image")
		require.NoError(t, err)
		defer func() { _ = f.Close() }()
		_, _, err = image.Decode(f)
		assert.NoError(t, err)
		_ = json.NewEncoder(w).Encode(map[string]string{"name": hdr.Filename, "subfolder": "rm", "type": "input"})
	})
	mux.HandleFunc("/api/prompt", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt map[string]struct {
				ClassType string         `json:"class_type"`
				Inputs    map[string]any `json:"inputs"`
			} `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "LoadImage", req.Prompt["1"].ClassType)
		assert.Contains(t, req.Prompt["1"].Inputs["image"], "rm/")
		_, _ = w.Write([]byte(`{"prompt_id":"p-1","number":1,"node_errors":{}}`))
	})
	mux.HandleFunc("/api/history/p-1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) <= pendingPolls {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"p-1":{"status":{"status_str":"` + status + `","completed":true},
			"outputs":{"3":{"images":[{"filename":"rembg_00001_.png","subfolder":"","type":"output"}]}}}}`))
	})
	mux.HandleFunc("/api/view", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "rembg_00001_.png", r.URL.Query().Get("filename"))
		assert.Equal(t, "output", r.URL.Query().Get("type"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(out.Bytes())
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestBiRefNetRemBG_Remove(t *testing.T) {
	server := fakeComfyUI(t, 2, "success")

	b := NewBiRefNetRemBG(server.URL+"/", nhttp.NewHTTPClient())
	b.pollInterval = 5 * time.Millisecond

	got, err := b.Remove(context.Background(), fill(3, 2, color.NRGBA{R: 1, G: 2, B: 3, A: 255}))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), got.Bounds())
	assert.Equal(t, uint8(0), imgproc.Normalize(got).NRGBAAt(0, 0).A)
}

func TestBiRefNetRemBG_PromptFailed(t *testing.T) {
	server := fakeComfyUI(t, 0, "error")

	b := NewBiRefNetRemBG(server.URL, nhttp.NewHTTPClient())
	b.pollInterval = 5 * time.Millisecond

	_, err := b.Remove(context.Background(), fill(2, 2, color.NRGBA{A: 255}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestBiRefNetRemBG_WaitRespectsContext(t *testing.T) {
	server := fakeComfyUI(t, 1<<30, "success")

	b := NewBiRefNetRemBG(server.URL, nhttp.NewHTTPClient())
	b.pollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.waitForOutput(ctx, "p-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBiRefNetRemBG_uploadImage(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := mocks.NewMockIClient(ctrl)

	cli.EXPECT().DoHTTPRequest(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, p *nhttp.RequestParam) error {
			assert.Equal(t, "http://comfy/api/upload/image", p.RequestURI)
			assert.Contains(t, p.Header["Content-Type"], "multipart/form-data")
			body, err := io.ReadAll(p.Body.(io.Reader))
			require.NoError(t, err)
			assert.Contains(t, string(body), `name="overwrite"`)
			resp := p.Response.(*uploadImageResp)
			resp.Name = "a.png"
			return nil
		})

	b := NewBiRefNetRemBG("http://comfy", cli)
	got, err := b.uploadImage(context.Background(), "a.png", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "a.png", got.path())
}

func TestBiRefNetRemBG_uploadImageError(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := mocks.NewMockIClient(ctrl)
	cli.EXPECT().DoHTTPRequest(gomock.Any(), gomock.Any()).Return(errors.New("connection refused"))

	b := NewBiRefNetRemBG("http://comfy", cli)
	_, err := b.uploadImage(context.Background(), "a.png", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestBiRefNetRemBG_prompt(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := mocks.NewMockIClient(ctrl)

	cli.EXPECT().DoHTTPRequest(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, p *nhttp.RequestParam) error {
			body, ok := p.Body.([]byte)
			require.True(t, ok)
			assert.Contains(t, string(body), `"image":"sub/x.png"`)
			assert.NotContains(t, string(body), workflowImagePlaceholder)
			p.Response.(*promptResp).PromptID = "id-9"
			return nil
		})

	b := NewBiRefNetRemBG("http://comfy", cli)
	id, err := b.prompt(context.Background(), "sub/x.png")
	require.NoError(t, err)
	assert.Equal(t, "id-9", id)
	// 内嵌工作流不被修改
	assert.Contains(t, b.workflow, workflowImagePlaceholder)
}

func TestBiRefNetRemBG_promptWithoutPlaceholder(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := mocks.NewMockIClient(ctrl)

	b := NewBiRefNetRemBG("http://comfy", cli)
	b.workflow = `{"1":{"class_type":"LoadImage","inputs":{"image":"other.png"}}}`
	_, err := b.prompt(context.Background(), "x.png")
	assert.Error(t, err)
}

func TestFirstOutputImage(t *testing.T) {
	var entry historyEntry
	require.NoError(t, json.Unmarshal([]byte(`{"outputs":{
		"9":{"images":[{"filename":"b.png"}]},
		"10":{"images":[]},
		"4":{"images":[{"filename":"a.png"}]}}}`), &entry))

	got, ok := firstOutputImage(entry)
	require.True(t, ok)
	assert.Equal(t, "a.png", got.Filename)

	_, ok = firstOutputImage(historyEntry{})
	assert.False(t, ok)
}
