package imgproc

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// ResizeMethod 背景图适配主体尺寸的方式
type ResizeMethod string

const (
	// ResizeCover 等比放大到完全覆盖，再居中裁剪
	ResizeCover ResizeMethod = "cover"
	// ResizeStretch 直接拉伸到主体尺寸
	ResizeStretch ResizeMethod = "stretch"
)

func ParseResizeMethod(s string) (ResizeMethod, error) {
	switch ResizeMethod(s) {
	case "", ResizeCover:
		return ResizeCover, nil
	case ResizeStretch:
		return ResizeStretch, nil
	default:
		return "", fmt.Errorf("unknown resize method %q", s)
	}
}

// Background 纯色或图片背景，Image 优先
type Background struct {
	Color  *color.NRGBA
	Image  image.Image
	Resize ResizeMethod
}

func (b Background) IsZero() bool {
	return b.Color == nil && b.Image == nil
}

// ReplaceBackground 把主体合成到新背景上，输出尺寸与主体一致
func ReplaceBackground(img image.Image, bg Background) (*image.NRGBA, error) {
	src := Normalize(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	switch {
	case bg.Image != nil:
		fitted := fitBackground(bg.Image, w, h, bg.Resize)
		draw.Draw(out, out.Bounds(), fitted, fitted.Bounds().Min, draw.Src)
	case bg.Color != nil:
		draw.Draw(out, out.Bounds(), image.NewUniform(*bg.Color), image.Point{}, draw.Src)
	default:
		return nil, errors.New("empty background")
	}

	draw.Draw(out, out.Bounds(), src, image.Point{}, draw.Over)
	return out, nil
}

func fitBackground(bg image.Image, w, h int, method ResizeMethod) image.Image {
	if w == 0 || h == 0 || bg.Bounds().Empty() {
		return image.NewNRGBA(image.Rect(0, 0, w, h))
	}
	if method == ResizeStretch {
		return resize.Resize(uint(w), uint(h), bg, resize.Lanczos3)
	}

	bw, bh := bg.Bounds().Dx(), bg.Bounds().Dy()
	scale := math.Max(float64(w)/float64(bw), float64(h)/float64(bh))
	nw := max(w, int(math.Ceil(float64(bw)*scale)))
	nh := max(h, int(math.Ceil(float64(bh)*scale)))

	resized := Normalize(resize.Resize(uint(nw), uint(nh), bg, resize.Lanczos3))
	left := (resized.Bounds().Dx() - w) / 2
	top := (resized.Bounds().Dy() - h) / 2
	return resized.SubImage(image.Rect(left, top, left+w, top+h))
}
