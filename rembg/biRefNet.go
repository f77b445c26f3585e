package rembg

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/chaos-io/imageapp/imgproc"
	nhttp "github.com/chaos-io/imageapp/util/http"
)

const (
	BiRefNetModel = "BiRefNet"

	// 工作流中 LoadImage 节点的占位文件名
	workflowImagePlaceholder = "MyImage.png"
	defaultPollInterval      = 500 * time.Millisecond
)

//go:embed workflow.json
var workflowData string

// BiRefNetRemBG 通过 ComfyUI 运行 BiRefNet 抠图工作流
//
//	上传图片 -> 提交工作流 -> 轮询 history -> 下载输出图片
type BiRefNetRemBG struct {
	baseURL      string
	cli          nhttp.IClient
	workflow     string
	pollInterval time.Duration
}

func NewBiRefNetRemBG(baseURL string, cli nhttp.IClient) *BiRefNetRemBG {
	return &BiRefNetRemBG{
		baseURL:      strings.TrimRight(baseURL, "/"),
		cli:          cli,
		workflow:     workflowData,
		pollInterval: defaultPollInterval,
	}
}

func (b *BiRefNetRemBG) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	var buf bytes.Buffer
	if err := imgproc.EncodePNG(&buf, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	uploaded, err := b.uploadImage(ctx, ksuid.New().String()+".png", buf.Bytes())
	if err != nil {
		return nil, err
	}

	promptID, err := b.prompt(ctx, uploaded.path())
	if err != nil {
		return nil, err
	}

	out, err := b.waitForOutput(ctx, promptID)
	if err != nil {
		return nil, err
	}

	return b.view(ctx, out)
}

type uploadImageResp struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// path LoadImage 节点引用上传文件时使用 subfolder/name
func (u uploadImageResp) path() string {
	if u.Subfolder == "" {
		return u.Name
	}
	return u.Subfolder + "/" + u.Name
}

/*
	curl -X POST "$BASE_URL/api/upload/image" \
	  -F "image=@my_image.png" \
	  -F "type=input" \
	  -F "overwrite=true"

{"name": "my_image1.png", "subfolder": "", "type": "input"}%
*/
func (b *BiRefNetRemBG) uploadImage(ctx context.Context, name string, data []byte) (*uploadImageResp, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	// image 文件字段
	part, err := writer.CreateFormFile("image", name)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("copy form file: %w", err)
	}

	// 其他字段
	_ = writer.WriteField("type", "input")
	_ = writer.WriteField("overwrite", "true")
	_ = writer.Close()

	resp := &uploadImageResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + "/api/upload/image",
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   resp,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	if resp.Name == "" {
		return nil, errors.New("upload image: empty name in response")
	}

	slog.Debug("comfyui image uploaded", "response", resp)
	return resp, nil
}

type promptResp struct {
	PromptID   string          `json:"prompt_id"`
	NodeErrors json.RawMessage `json:"node_errors"`
}

/*
	curl -X POST "$BASE_URL/api/prompt" \
	  -H "Content-Type: application/json" \
	  -d '{"prompt": '"$(cat workflow.json)"'}'
*/
func (b *BiRefNetRemBG) prompt(ctx context.Context, imageName string) (string, error) {
	wk := map[string]any{}
	if err := json.Unmarshal([]byte(b.workflow), &wk); err != nil {
		return "", fmt.Errorf("unmarshal workflow data: %w", err)
	}
	if !replaceImageInput(wk, imageName) {
		return "", fmt.Errorf("workflow has no %q image input", workflowImagePlaceholder)
	}

	body, err := json.Marshal(map[string]any{"prompt": wk, "client_id": BiRefNetModel})
	if err != nil {
		return "", fmt.Errorf("marshal workflow data: %w", err)
	}

	resp := &promptResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + "/api/prompt",
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": "application/json"},
		Body:       body,
		Response:   resp,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return "", fmt.Errorf("queue prompt: %w", err)
	}
	if resp.PromptID == "" {
		return "", fmt.Errorf("queue prompt: no prompt id, node errors: %s", string(resp.NodeErrors))
	}

	slog.Debug("comfyui prompt queued", "prompt_id", resp.PromptID)
	return resp.PromptID, nil
}

// replaceImageInput 把 LoadImage 节点的占位文件名换成上传后的文件名
func replaceImageInput(wk map[string]any, imageName string) bool {
	replaced := false
	for _, node := range wk {
		n, ok := node.(map[string]any)
		if !ok {
			continue
		}
		inputs, ok := n["inputs"].(map[string]any)
		if !ok {
			continue
		}
		if v, ok := inputs["image"].(string); ok && v == workflowImagePlaceholder {
			inputs["image"] = imageName
			replaced = true
		}
	}
	return replaced
}

type outputImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type historyEntry struct {
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []outputImage `json:"images"`
	} `json:"outputs"`
}

// waitForOutput 轮询 /api/history/{id}，直到有输出图片、任务报错或 ctx 结束
func (b *BiRefNetRemBG) waitForOutput(ctx context.Context, promptID string) (outputImage, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		history := map[string]historyEntry{}
		reqParam := &nhttp.RequestParam{
			RequestURI: b.baseURL + "/api/history/" + url.PathEscape(promptID),
			Method:     http.MethodGet,
			Response:   &history,
		}
		if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
			return outputImage{}, fmt.Errorf("get history: %w", err)
		}

		if entry, ok := history[promptID]; ok {
			if entry.Status.StatusStr == "error" {
				return outputImage{}, fmt.Errorf("prompt %s failed", promptID)
			}
			if img, ok := firstOutputImage(entry); ok {
				return img, nil
			}
			if entry.Status.Completed {
				return outputImage{}, fmt.Errorf("prompt %s completed without images", promptID)
			}
		}

		select {
		case <-ctx.Done():
			return outputImage{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// firstOutputImage 按节点 id 排序后取第一张，保证结果稳定
func firstOutputImage(entry historyEntry) (outputImage, bool) {
	nodes := make([]string, 0, len(entry.Outputs))
	for id := range entry.Outputs {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)
	for _, id := range nodes {
		if imgs := entry.Outputs[id].Images; len(imgs) > 0 {
			return imgs[0], true
		}
	}
	return outputImage{}, false
}

func (b *BiRefNetRemBG) view(ctx context.Context, out outputImage) (image.Image, error) {
	q := url.Values{}
	q.Set("filename", out.Filename)
	q.Set("subfolder", out.Subfolder)
	q.Set("type", out.Type)

	var data []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + "/api/view?" + q.Encode(),
		Method:     http.MethodGet,
		Response:   &data,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("view image: %w", err)
	}

	img, _, err := imgproc.Decode(bytes.NewReader(data))
	return img, err
}
