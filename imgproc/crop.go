package imgproc

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

var ErrNoForeground = errors.New("no foreground detected")

// CropMode 抠图后的裁剪方式
type CropMode string

const (
	CropNone   CropMode = "none"
	CropTight  CropMode = "tight"
	CropSquare CropMode = "square"
)

// 正方形裁剪沿用预处理时的主体阈值
const squareAlphaThreshold = 0.8

func ParseCropMode(s string) (CropMode, error) {
	switch CropMode(s) {
	case "", CropNone:
		return CropNone, nil
	case CropTight, CropSquare:
		return CropMode(s), nil
	default:
		return "", fmt.Errorf("unknown crop mode %q", s)
	}
}

// Crop 按模式裁剪，未检测到主体时返回 ErrNoForeground
func Crop(img *image.NRGBA, mode CropMode) (*image.NRGBA, error) {
	switch mode {
	case CropTight:
		bbox, err := AlphaBBox(img, 0)
		if err != nil {
			return nil, err
		}
		return cropRect(img, bbox), nil
	case CropSquare:
		bbox, err := AlphaBBox(img, squareAlphaThreshold)
		if err != nil {
			return nil, err
		}
		return cropSquare(img, bbox), nil
	default:
		return img, nil
	}
}

// AlphaBBox 从 alpha 通道计算主体 bounding box
// 把 alpha > threshold * 255 的像素当作“主体”，找所有主体像素的坐标
func AlphaBBox(img *image.NRGBA, threshold float64) (image.Rectangle, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	th := uint8(threshold * 255)

	minX, minY := w, h
	maxX, maxY := 0, 0
	found := false

	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			a := img.Pix[row+x*4+3]
			if a > th {
				found = true
				minX = min(minX, x)
				minY = min(minY, y)
				maxX = max(maxX, x)
				maxY = max(maxY, y)
			}
		}
	}

	if !found {
		return image.Rectangle{}, ErrNoForeground
	}

	return image.Rect(minX, minY, maxX+1, maxY+1), nil
}

func cropRect(img *image.NRGBA, r image.Rectangle) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// cropSquare 正方形裁剪（中心对齐）
// 用 bbox 最长边作为边长，超出原图的部分保持透明，保证输出是正方形
func cropSquare(img *image.NRGBA, bbox image.Rectangle) *image.NRGBA {
	cx := (bbox.Min.X + bbox.Max.X) / 2
	cy := (bbox.Min.Y + bbox.Max.Y) / 2
	size := max(bbox.Dx(), bbox.Dy())

	origin := image.Pt(cx-size/2, cy-size/2)
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), img, origin, draw.Src)
	return dst
}
