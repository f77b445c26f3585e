package crawler

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/chaos-io/imageapp/util"
)

// 匹配 img 标签中的 src
var imgSrcRe = regexp.MustCompile(`<img[^>]+src="([^">]+)"`)

// ExtractImageURLs 从页面 HTML 中提取图片地址
//
//	match 非空时只保留包含该子串的地址
//	相对路径按 base 补全，MediaWiki 缩略图还原为原图
//	结果按出现顺序去重
func ExtractImageURLs(body []byte, base *url.URL, match string) []string {
	matches := imgSrcRe.FindAllSubmatch(body, -1)

	seen := make(map[string]struct{}, len(matches))
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		imgURL := string(m[1])
		if match != "" && !strings.Contains(imgURL, match) {
			continue
		}
		imgURL = NormalizeThumbURL(imgURL)

		u, err := url.Parse(imgURL)
		if err != nil {
			continue
		}
		full := u.String()
		if base != nil {
			full = base.ResolveReference(u).String()
		}

		if _, ok := seen[full]; ok {
			continue
		}
		seen[full] = struct{}{}
		urls = append(urls, full)
	}
	return urls
}

// SaveImage 下载图片到 saveDir，返回保存路径，文件原子写入
func SaveImage(ctx context.Context, imgURL, saveDir string) (string, error) {
	u, err := url.Parse(imgURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	filename := path.Base(u.Path)
	if filename == "." || filename == "/" {
		return "", fmt.Errorf("no file name in %q", imgURL)
	}

	data, err := util.Download(ctx, imgURL)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		return "", err
	}
	filePath := path.Join(saveDir, filename)
	if err := renameio.WriteFile(filePath, data, 0o644); err != nil {
		return "", err
	}
	return filePath, nil
}

// NormalizeThumbURL 把 .../thumb/a/ab/Name.png/600px-Name.png 还原为 .../a/ab/Name.png
func NormalizeThumbURL(imgURL string) string {
	if !strings.Contains(imgURL, "/thumb/") {
		return imgURL
	}
	parts := strings.Split(imgURL, "/thumb/")
	if len(parts) != 2 {
		return imgURL
	}
	sub := parts[1]
	idx := strings.LastIndex(sub, "/")
	if idx == -1 {
		return imgURL
	}
	return parts[0] + "/" + sub[:idx]
}
