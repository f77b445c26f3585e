package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/imageapp/imgproc"
)

type removerFunc func(ctx context.Context, img image.Image) (image.Image, error)

func (f removerFunc) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	return f(ctx, img)
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// clearAll 返回全透明图片，模拟没有检测到主体
func clearAll(_ context.Context, img image.Image) (image.Image, error) {
	return image.NewNRGBA(img.Bounds()), nil
}

// keepCenter 只保留中心 2x2
func keepCenter(_ context.Context, img image.Image) (image.Image, error) {
	src := imgproc.Normalize(img)
	out := image.NewNRGBA(src.Bounds())
	cx, cy := src.Bounds().Dx()/2, src.Bounds().Dy()/2
	for y := cy - 1; y <= cy; y++ {
		for x := cx - 1; x <= cx; x++ {
			out.SetNRGBA(x, y, src.NRGBAAt(x, y))
		}
	}
	return out, nil
}

var red = color.NRGBA{R: 255, A: 255}

func TestRun_CropModes(t *testing.T) {
	tests := []struct {
		mode imgproc.CropMode
		want image.Point
	}{
		{imgproc.CropNone, image.Pt(8, 8)},
		{"", image.Pt(8, 8)},
		{imgproc.CropTight, image.Pt(2, 2)},
		{imgproc.CropSquare, image.Pt(2, 2)},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			out, err := Run(context.Background(), removerFunc(keepCenter), solid(8, 8, red), Options{Crop: tt.mode})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Bounds().Size())
		})
	}
}

func TestRun_NoForegroundLeavesImageUncropped(t *testing.T) {
	out, err := Run(context.Background(), removerFunc(clearAll), solid(6, 4, red), Options{Crop: imgproc.CropTight})
	require.NoError(t, err)
	assert.Equal(t, image.Pt(6, 4), out.Bounds().Size())
}

func TestRun_ReuseAlpha(t *testing.T) {
	called := false
	remover := removerFunc(func(ctx context.Context, img image.Image) (image.Image, error) {
		called = true
		return img, nil
	})

	_, err := Run(context.Background(), remover, solid(2, 2, color.NRGBA{A: 10}), Options{ReuseAlpha: true})
	require.NoError(t, err)
	assert.False(t, called)

	_, err = Run(context.Background(), remover, solid(2, 2, red), Options{ReuseAlpha: true})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestRun_ShadowThenBackground(t *testing.T) {
	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	out, err := Run(context.Background(), removerFunc(keepCenter), solid(8, 8, red), Options{
		Crop:       imgproc.CropTight,
		Shadow:     &imgproc.ShadowOptions{OffsetX: 1, OffsetY: 1, Color: color.NRGBA{A: 255}},
		Background: imgproc.Background{Color: &white},
	})
	require.NoError(t, err)
	assert.Equal(t, image.Pt(3, 3), out.Bounds().Size())
	assert.Equal(t, red, out.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{A: 255}, out.NRGBAAt(2, 2))
	assert.Equal(t, white, out.NRGBAAt(2, 0))
}

func TestRun_MaxImageSide(t *testing.T) {
	out, err := Run(context.Background(), removerFunc(func(_ context.Context, img image.Image) (image.Image, error) {
		return img, nil
	}), solid(20, 10, red), Options{MaxImageSide: 10})
	require.NoError(t, err)
	assert.Equal(t, image.Pt(10, 5), out.Bounds().Size())
}

func TestRun_RemoverError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Run(context.Background(), removerFunc(func(context.Context, image.Image) (image.Image, error) {
		return nil, boom
	}), solid(2, 2, red), Options{})
	assert.ErrorIs(t, err, boom)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, removerFunc(func(_ context.Context, img image.Image) (image.Image, error) {
		return img, nil
	}), solid(2, 2, red), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_CancelledBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shadow := imgproc.DefaultShadowOptions()
	blue := color.NRGBA{B: 255, A: 255}
	_, err := Run(ctx, removerFunc(func(_ context.Context, img image.Image) (image.Image, error) {
		// 抠图完成后请求被取消
		cancel()
		return img, nil
	}), solid(8, 8, red), Options{
		Crop:       imgproc.CropTight,
		Shadow:     &shadow,
		Background: imgproc.Background{Color: &blue},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseShadowParams(t *testing.T) {
	def := imgproc.DefaultShadowOptions()

	tests := []struct {
		name    string
		raw     string
		want    *imgproc.ShadowOptions
		wantErr bool
	}{
		{name: "empty", raw: "", want: nil},
		{name: "empty object", raw: "{}", want: nil},
		{name: "defaults", raw: `{"add_shadow":true}`, want: &def},
		{
			name: "custom",
			raw:  `{"add_shadow":true,"offset":[-5,10],"blur":2.5,"color":[10,20,30,40]}`,
			want: &imgproc.ShadowOptions{OffsetX: -5, OffsetY: 10, Blur: 2.5, Color: color.NRGBA{R: 10, G: 20, B: 30, A: 40}},
		},
		{
			name: "rgb colour",
			raw:  `{"add_shadow":true,"color":[1,2,3]}`,
			want: &imgproc.ShadowOptions{OffsetX: 20, OffsetY: 20, Blur: 30, Color: color.NRGBA{R: 1, G: 2, B: 3, A: 255}},
		},
		{name: "invalid json", raw: "{", wantErr: true},
		{name: "bad offset", raw: `{"add_shadow":true,"offset":"x"}`, wantErr: true},
		{name: "negative blur", raw: `{"add_shadow":true,"blur":-1}`, wantErr: true},
		{
			name: "limits",
			raw:  `{"add_shadow":true,"offset":[-200,200],"blur":50}`,
			want: &imgproc.ShadowOptions{OffsetX: -200, OffsetY: 200, Blur: 50, Color: def.Color},
		},
		{name: "blur too large", raw: `{"add_shadow":true,"blur":1e9}`, wantErr: true},
		{name: "offset too large", raw: `{"add_shadow":true,"offset":[2000000000,0]}`, wantErr: true},
		{name: "offset too small", raw: `{"add_shadow":true,"offset":[0,-201]}`, wantErr: true},
		{name: "single offset", raw: `{"add_shadow":true,"offset":[5]}`, wantErr: true},
		{name: "three offsets", raw: `{"add_shadow":true,"offset":[1,2,3]}`, wantErr: true},
		{name: "empty offset", raw: `{"add_shadow":true,"offset":[]}`, wantErr: true},
		{name: "short colour", raw: `{"add_shadow":true,"color":[1,2]}`, wantErr: true},
		{name: "colour out of range", raw: `{"add_shadow":true,"color":[1,2,300]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseShadowParams(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
