// Package imgproc 提供抠图前后的图像处理：解码、缩放、裁剪、阴影和背景替换
package imgproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"

	_ "golang.org/x/image/webp"
)

// MaxPixels 解码前按文件头声明的尺寸拦截超大图片，与 Pillow 的 MAX_IMAGE_PIXELS 相同
var MaxPixels = 89_478_485

var ErrImageTooLarge = errors.New("image too large")

// Decode 解码 png / jpeg / gif / webp，返回图片和格式名
//
//	先读文件头，宽×高超过 MaxPixels 时返回 ErrImageTooLarge，不分配像素内存
func Decode(r io.Reader) (image.Image, string, error) {
	var head bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &head))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(MaxPixels) {
		return nil, "", fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	img, format, err := image.Decode(io.MultiReader(&head, r))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// EncodePNG 以最高压缩率输出 PNG
func EncodePNG(w io.Writer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	return enc.Encode(w, img)
}

// Normalize 转为原点在 (0,0) 的 NRGBA，方便统一按 Pix 处理
// 没有 alpha 的颜色模型（YCbCr、Gray、CMYK）转换后自然是全不透明
func Normalize(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if nrgba, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) && nrgba.Stride == 4*b.Dx() {
		return nrgba
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// HasUsefulAlpha 检查 alpha 通道是否真的包含透明信息
// 只要存在非 255（非完全不透明），就认为“已有抠图”
func HasUsefulAlpha(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 255 {
			return true
		}
	}
	return false
}
