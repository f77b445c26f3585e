package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chaos-io/imageapp/config"
	"github.com/chaos-io/imageapp/generator"
	"github.com/chaos-io/imageapp/util/crawler"
)

// NewGenerateCmd 命令行生成图片
func NewGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate one image from a prompt",
		Long: `Generate drives GENERATOR_URL in Chrome with the given prompt and prints the
resulting image URL. With --save the image is also downloaded.

Example:
  imageapp generate "a red bicycle" --save ./output`,
		Args: cobra.MinimumNArgs(1),
		RunE: runGenerate,
	}

	cmd.Flags().String("save", "", "Directory to download the generated image into")

	return cmd
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	prompt := strings.Join(args, " ")

	gen := newGenerator(cfg.Generator)
	defer func() {
		_ = gen.Close()
	}()

	imageURL, err := generate(cmd.Context(), gen, prompt, cfg)
	if err != nil {
		return err
	}
	cmd.Println(imageURL)

	if dir, _ := cmd.Flags().GetString("save"); dir != "" {
		path, err := crawler.SaveImage(cmd.Context(), imageURL, dir)
		if err != nil {
			return fmt.Errorf("save image: %w", err)
		}
		cmd.Printf("Saved %s\n", path)
	}
	return nil
}

func generate(ctx context.Context, gen generator.Generator, prompt string, cfg config.Config) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.GenerateTimeout)
	defer cancel()

	imageURL, err := gen.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	if imageURL == "" {
		return "", fmt.Errorf("failed to generate image")
	}
	return imageURL, nil
}
