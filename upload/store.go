// Package upload 管理请求期间的临时上传文件
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SecureFilename 把客户端文件名变成可以安全落盘的名字
//
//	NFKD 分解后丢弃非 ASCII 字符
//	路径分隔符和空白合并为 _
//	只保留 [A-Za-z0-9_.-]，去掉首尾的 . 和 _
func SecureFilename(name string) string {
	name = norm.NFKD.String(name)

	var b strings.Builder
	for _, r := range name {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	name = strings.NewReplacer("/", " ", `\`, " ").Replace(b.String())
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")

	if name == "" {
		return "upload"
	}
	return name
}

type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// File 一次上传对应的临时目录和文件
type File struct {
	Dir  string
	Path string
}

// Cleanup 删除文件和所在的临时目录
func (f *File) Cleanup() error {
	return os.RemoveAll(f.Dir)
}

// Save 在上传目录下新建临时目录并写入文件
func (s *Store) Save(filename string, r io.Reader) (*File, error) {
	dir, err := os.MkdirTemp(s.dir, "req-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	f := &File{Dir: dir, Path: filepath.Join(dir, SecureFilename(filename))}

	out, err := os.Create(f.Path)
	if err != nil {
		_ = f.Cleanup()
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		_ = f.Cleanup()
		return nil, fmt.Errorf("write upload file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = f.Cleanup()
		return nil, fmt.Errorf("close upload file: %w", err)
	}
	return f, nil
}

// Clean 清空上传目录，停机时调用
func (s *Store) Clean() error {
	return s.removeOlderThan(time.Time{}, nil)
}

// Sweep 删除修改时间早于 maxAge 之前的条目，返回删除数量
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	n := 0
	err := s.removeOlderThan(time.Now().Add(-maxAge), &n)
	return n, err
}

func (s *Store) removeOlderThan(cutoff time.Time, removed *int) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read upload dir: %w", err)
	}

	var errs []error
	for _, e := range entries {
		if !cutoff.IsZero() {
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
		}
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		if removed != nil {
			*removed++
		}
	}
	return errors.Join(errs...)
}
