package cmd

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"

	"github.com/chaos-io/imageapp/config"
	"github.com/chaos-io/imageapp/imgproc"
	"github.com/chaos-io/imageapp/pipeline"
	"github.com/chaos-io/imageapp/rembg"
	"github.com/chaos-io/imageapp/util"
)

// NewRemoveCmd 命令行抠图
func NewRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <image-path-or-url>",
		Short: "Remove the background of one image",
		Long: `Remove runs the same pipeline as POST /remove-background on a local file or
an http(s) URL and writes the result as PNG.

Example:
  imageapp remove photo.jpg -o out.png --crop square --shadow '{"add_shadow":true}'`,
		Args: cobra.ExactArgs(1),
		RunE: runRemove,
	}

	cmd.Flags().StringP("output", "o", "processed.png", "Output PNG path")
	cmd.Flags().String("shadow", "", `Shadow params as JSON, e.g. {"add_shadow":true,"offset":[20,20]}`)
	cmd.Flags().String("background", "", "Background colour (#rrggbb or colour name)")
	cmd.Flags().String("background-image", "", "Background image path or URL")
	cmd.Flags().String("resize-method", string(imgproc.ResizeCover), "Background image fit: cover or stretch")
	cmd.Flags().String("crop", string(imgproc.CropNone), "Crop mode: none, tight or square")
	cmd.Flags().Bool("reuse-alpha", false, "Skip removal when the input already has transparency")

	return cmd
}

func runRemove(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	opts, err := removeOptionsFromFlags(cmd)
	if err != nil {
		return err
	}
	opts.MaxImageSide = cfg.MaxImageSide

	src, err := loadImage(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	ropts, err := removerOptions(cfg)
	if err != nil {
		return err
	}
	remover, err := rembg.New(ropts)
	if err != nil {
		return fmt.Errorf("create remover: %w", err)
	}
	defer func() {
		_ = rembg.Close(remover)
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RemoveTimeout)
	defer cancel()

	img, err := pipeline.Run(ctx, remover, src, opts)
	if err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")
	if err := writePNG(output, img); err != nil {
		return err
	}
	cmd.Printf("Saved %s (%dx%d)\n", output, img.Bounds().Dx(), img.Bounds().Dy())
	return nil
}

func removeOptionsFromFlags(cmd *cobra.Command) (pipeline.Options, error) {
	var opts pipeline.Options

	shadow, _ := cmd.Flags().GetString("shadow")
	s, err := pipeline.ParseShadowParams(shadow)
	if err != nil {
		return opts, fmt.Errorf("invalid --shadow: %w", err)
	}
	opts.Shadow = s

	crop, _ := cmd.Flags().GetString("crop")
	if opts.Crop, err = imgproc.ParseCropMode(crop); err != nil {
		return opts, err
	}

	method, _ := cmd.Flags().GetString("resize-method")
	if opts.Background.Resize, err = imgproc.ParseResizeMethod(method); err != nil {
		return opts, err
	}

	if bgImage, _ := cmd.Flags().GetString("background-image"); bgImage != "" {
		if opts.Background.Image, err = loadImage(cmd.Context(), bgImage); err != nil {
			return opts, fmt.Errorf("load background image: %w", err)
		}
	} else if bg, _ := cmd.Flags().GetString("background"); bg != "" {
		col, err := imgproc.ParseColor(bg)
		if err != nil {
			return opts, fmt.Errorf("invalid --background: %w", err)
		}
		opts.Background.Color = &col
	}

	opts.ReuseAlpha, _ = cmd.Flags().GetBool("reuse-alpha")
	return opts, nil
}

func loadImage(ctx context.Context, src string) (image.Image, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return util.DownloadImage(ctx, src)
	}
	return util.OpenImage(src)
}

func writePNG(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := imgproc.EncodePNG(&buf, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return renameio.WriteFile(path, buf.Bytes(), 0o644)
}
