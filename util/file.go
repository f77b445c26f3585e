package util

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/chaos-io/imageapp/imgproc"
	nhttp "github.com/chaos-io/imageapp/util/http"
)

// 下载图片的最大字节数
const maxDownloadSize = 64 << 20

var defaultClient = nhttp.NewHTTPClient()

// DownloadImage 下载并解码图片，超过 imgproc.MaxPixels 的图片不会被解码
func DownloadImage(ctx context.Context, url string) (image.Image, error) {
	data, err := Download(ctx, url)
	if err != nil {
		return nil, err
	}

	img, _, err := imgproc.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return img, nil
}

// Download 下载任意资源，非 2xx 视为错误
func Download(ctx context.Context, url string) ([]byte, error) {
	return download(ctx, defaultClient, url, maxDownloadSize)
}

func download(ctx context.Context, cli nhttp.IClient, url string, limit int64) ([]byte, error) {
	var data []byte
	reqParam := &nhttp.RequestParam{
		RequestURI:       url,
		Method:           http.MethodGet,
		Response:         &data,
		MaxResponseBytes: limit,
	}
	if err := cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	return data, nil
}

// OpenImage 打开本地图片
func OpenImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()

	img, _, err := imgproc.Decode(file)
	return img, err
}

// Trace 记录一段操作的耗时，用法：defer util.Trace("name")()
func Trace(name string) func() {
	start := time.Now()
	return func() {
		slog.Debug("trace", "name", name, "elapsed", time.Since(start))
	}
}
