package rembg

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

const (
	u2netModelName = "u2net.onnx"

	DefaultModelURL = "https://github.com/danielgatis/rembg/releases/download/v0.0.0/u2net.onnx"
	DefaultModelMD5 = "60024c5c889badc19c04ad937298a77b"
)

var ErrChecksum = errors.New("model checksum mismatch")

// ModelSpec 模型文件的下载地址和校验值，MD5 为空时不校验
type ModelSpec struct {
	Name string
	URL  string
	MD5  string
}

// DefaultModelDir 默认缓存目录 ~/.u2net
func DefaultModelDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".u2net"
	}
	return filepath.Join(home, ".u2net")
}

// FetchModel 返回本地模型路径，必要时下载
//
//	已存在且校验通过直接复用
//	已存在但校验失败则重新下载
//	下载内容先写临时文件，校验通过后原子替换
func FetchModel(ctx context.Context, dir string, spec ModelSpec) (string, error) {
	if spec.Name == "" {
		spec.Name = u2netModelName
	}
	if spec.URL == "" {
		spec.URL = DefaultModelURL
		if spec.MD5 == "" {
			spec.MD5 = DefaultModelMD5
		}
	}
	if dir == "" {
		dir = DefaultModelDir()
	}
	path := filepath.Join(dir, spec.Name)

	if sum, err := fileMD5(path); err == nil {
		if spec.MD5 == "" || strings.EqualFold(sum, spec.MD5) {
			return path, nil
		}
		slog.Warn("cached model checksum mismatch, downloading again", "path", path, "want", spec.MD5, "got", sum)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("hash cached model: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}
	if err := download(ctx, spec, path); err != nil {
		return "", err
	}
	return path, nil
}

func download(ctx context.Context, spec ModelSpec, path string) error {
	slog.Info("downloading model", "url", spec.URL, "path", path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download model: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download model: status code %d", resp.StatusCode)
	}

	pendingFile, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending model file: %w", err)
	}
	defer func() {
		_ = pendingFile.Cleanup()
	}()

	h := md5.New()
	if _, err := io.Copy(io.MultiWriter(pendingFile, h), resp.Body); err != nil {
		return fmt.Errorf("write model: %w", err)
	}

	if spec.MD5 != "" {
		if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, spec.MD5) {
			return fmt.Errorf("%w: want %s, got %s", ErrChecksum, spec.MD5, got)
		}
	}

	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace model file: %w", err)
	}
	return nil
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
