package imgproc

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

type ShadowOptions struct {
	OffsetX int
	OffsetY int
	// Blur 高斯模糊的 sigma，<= 0 不模糊
	Blur  float64
	Color color.NRGBA
}

func DefaultShadowOptions() ShadowOptions {
	return ShadowOptions{
		OffsetX: 20,
		OffsetY: 20,
		Blur:    30,
		Color:   color.NRGBA{A: 120},
	}
}

// AddShadow 给透明背景的主体加投影
//
//	画布在两个方向上各扩展 |offset|
//	阴影 = 阴影色 + 主体 alpha × 阴影色 alpha，再做高斯模糊
//	负偏移时主体右移/下移，阴影贴左上
func AddShadow(img image.Image, opts ShadowOptions) *image.NRGBA {
	src := Normalize(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()

	// 阴影层四周留出模糊余量，否则边缘会被截断
	m := 0
	if opts.Blur > 0 {
		m = int(math.Ceil(opts.Blur * 3))
	}

	shadow := image.NewNRGBA(image.Rect(0, 0, w+2*m, h+2*m))
	ca := uint32(opts.Color.A)
	for y := 0; y < h; y++ {
		srow := y * src.Stride
		drow := (y + m) * shadow.Stride
		for x := 0; x < w; x++ {
			a := uint32(src.Pix[srow+x*4+3])
			i := drow + (x+m)*4
			shadow.Pix[i] = opts.Color.R
			shadow.Pix[i+1] = opts.Color.G
			shadow.Pix[i+2] = opts.Color.B
			shadow.Pix[i+3] = uint8(a * ca / 255)
		}
	}

	if opts.Blur > 0 {
		shadow = imaging.Blur(shadow, opts.Blur)
	}

	out := image.NewNRGBA(image.Rect(0, 0, w+abs(opts.OffsetX), h+abs(opts.OffsetY)))

	shadowAt := image.Pt(max(opts.OffsetX, 0), max(opts.OffsetY, 0))
	shadowMin := shadowAt.Sub(image.Pt(m, m))
	draw.Draw(out, image.Rectangle{Min: shadowMin, Max: shadowMin.Add(shadow.Bounds().Size())}, shadow, image.Point{}, draw.Over)

	imageAt := image.Pt(max(-opts.OffsetX, 0), max(-opts.OffsetY, 0))
	draw.Draw(out, image.Rectangle{Min: imageAt, Max: imageAt.Add(image.Pt(w, h))}, src, image.Point{}, draw.Over)

	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
