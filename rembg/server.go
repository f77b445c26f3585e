package rembg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/chaos-io/imageapp/imgproc"
	nhttp "github.com/chaos-io/imageapp/util/http"
)

// ServerRemBG 调用 `rembg s` 启动的服务
/*
	curl -X POST "$REMBG_URL/api/remove" -F "file=@my_image.png" -o out.png
*/
type ServerRemBG struct {
	removeURL string
	cli       nhttp.IClient
}

func NewServerRemBG(baseURL string, cli nhttp.IClient) *ServerRemBG {
	return &ServerRemBG{
		removeURL: strings.TrimRight(baseURL, "/") + "/api/remove",
		cli:       cli,
	}
}

func (s *ServerRemBG) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	var pngData bytes.Buffer
	if err := imgproc.EncodePNG(&pngData, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(pngData.Bytes()); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	_ = writer.Close()

	var out []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: s.removeURL,
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   &out,
	}
	if err := s.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	result, _, err := imgproc.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, err
	}
	return result, nil
}
