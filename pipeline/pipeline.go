// Package pipeline 抠图流水线：缩放、抠图、裁剪、阴影、换背景
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"strings"

	"github.com/chaos-io/imageapp/imgproc"
	"github.com/chaos-io/imageapp/rembg"
	"github.com/chaos-io/imageapp/util"
)

// 阴影参数上限，模糊余量和画布大小随它们线性增长
const (
	MaxShadowBlur   = 50.0
	MaxShadowOffset = 200
)

type Options struct {
	// Shadow 为 nil 时不加阴影
	Shadow     *imgproc.ShadowOptions
	Background imgproc.Background
	Crop       imgproc.CropMode
	// ReuseAlpha 输入已有透明通道时跳过抠图
	ReuseAlpha   bool
	MaxImageSide int
}

// Run 依次执行：归一化、限制尺寸、抠图、裁剪、阴影、换背景，每一步之前检查 ctx
func Run(ctx context.Context, remover rembg.Remover, src image.Image, opts Options) (*image.NRGBA, error) {
	defer util.Trace("pipeline")()

	img := imgproc.ResizeWithinMax(imgproc.Normalize(src), opts.MaxImageSide)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !(opts.ReuseAlpha && imgproc.HasUsefulAlpha(img)) {
		removed, err := remover.Remove(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("remove background: %w", err)
		}
		img = imgproc.Normalize(removed)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Crop != "" && opts.Crop != imgproc.CropNone {
		cropped, err := imgproc.Crop(img, opts.Crop)
		switch {
		case errors.Is(err, imgproc.ErrNoForeground):
			slog.Warn("no foreground detected, skip crop", "mode", opts.Crop)
		case err != nil:
			return nil, err
		default:
			img = cropped
		}
	}

	if opts.Shadow != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img = imgproc.AddShadow(img, *opts.Shadow)
	}

	if !opts.Background.IsZero() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		if img, err = imgproc.ReplaceBackground(img, opts.Background); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return img, nil
}

type shadowParams struct {
	AddShadow bool       `json:"add_shadow"`
	Offset    []int      `json:"offset"`
	Blur      *float64   `json:"blur"`
	Color     *[]float64 `json:"color"`
}

// ParseShadowParams 解析 {"add_shadow":bool,"offset":[x,y],"blur":n,"color":[r,g,b,a]}
//
//	空串或 add_shadow 为 false 时返回 nil
//	未给出的字段取 imgproc.DefaultShadowOptions
//	offset 必须是两个元素，|offset| <= MaxShadowOffset，0 <= blur <= MaxShadowBlur
func ParseShadowParams(raw string) (*imgproc.ShadowOptions, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var p shadowParams
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	if !p.AddShadow {
		return nil, nil
	}

	opts := imgproc.DefaultShadowOptions()
	if p.Offset != nil {
		if len(p.Offset) != 2 {
			return nil, fmt.Errorf("offset needs 2 components, got %d", len(p.Offset))
		}
		for _, v := range p.Offset {
			if v < -MaxShadowOffset || v > MaxShadowOffset {
				return nil, fmt.Errorf("offset %d out of range [-%d, %d]", v, MaxShadowOffset, MaxShadowOffset)
			}
		}
		opts.OffsetX, opts.OffsetY = p.Offset[0], p.Offset[1]
	}
	if p.Blur != nil {
		if *p.Blur < 0 || *p.Blur > MaxShadowBlur {
			return nil, fmt.Errorf("blur %v out of range [0, %v]", *p.Blur, MaxShadowBlur)
		}
		opts.Blur = *p.Blur
	}
	if p.Color != nil {
		c, err := colorFromSlice(*p.Color)
		if err != nil {
			return nil, err
		}
		opts.Color = c
	}
	return &opts, nil
}

// colorFromSlice [r,g,b] 或 [r,g,b,a]，缺省 alpha 为 255
func colorFromSlice(vs []float64) (color.NRGBA, error) {
	if len(vs) != 3 && len(vs) != 4 {
		return color.NRGBA{}, fmt.Errorf("color needs 3 or 4 components, got %d", len(vs))
	}
	c := [4]uint8{0, 0, 0, 255}
	for i, v := range vs {
		if v < 0 || v > 255 {
			return color.NRGBA{}, fmt.Errorf("color component %v out of range", v)
		}
		c[i] = uint8(v)
	}
	return color.NRGBA{R: c[0], G: c[1], B: c[2], A: c[3]}, nil
}
