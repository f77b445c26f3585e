package cmd

import (
	"fmt"
	"os"

	"github.com/chaos-io/imageapp/config"
	"github.com/chaos-io/imageapp/generator"
	"github.com/chaos-io/imageapp/rembg"
)

// removerOptions COMFYUI_WORKFLOW 是工作流 JSON 文件路径，为空时用内置工作流
func removerOptions(cfg config.Config) (rembg.Options, error) {
	opts := rembg.Options{
		Backend:      cfg.RembgBackend,
		ModelDir:     cfg.ModelDir,
		ModelURL:     cfg.ModelURL,
		ModelMD5:     cfg.ModelMD5,
		RuntimeLib:   cfg.ONNXRuntimeLib,
		FetchTimeout: cfg.ModelFetchTimeout,
		RembgURL:     cfg.RembgURL,
		ComfyUIURL:   cfg.ComfyUIURL,
	}
	if cfg.ComfyUIWorkflow != "" {
		data, err := os.ReadFile(cfg.ComfyUIWorkflow)
		if err != nil {
			return opts, fmt.Errorf("read comfyui workflow: %w", err)
		}
		opts.Workflow = string(data)
	}
	return opts, nil
}

func browserOptions(cfg config.GeneratorConfig) generator.BrowserOptions {
	return generator.BrowserOptions{
		URL:            cfg.URL,
		PromptSelector: cfg.PromptSelector,
		SubmitSelector: cfg.SubmitSelector,
		ResultSelector: cfg.ResultSelector,
		ImageMatch:     cfg.ImageMatch,
		ChromePath:     cfg.ChromePath,
		Headless:       cfg.Headless,
	}
}

// newGenerator 未配置 GENERATOR_URL 时返回的 Lazy 总是报 ErrNotConfigured
func newGenerator(cfg config.GeneratorConfig) *generator.Lazy {
	if !cfg.Enabled() {
		return generator.NewLazy(nil)
	}
	opts := browserOptions(cfg)
	return generator.NewLazy(func() (generator.Generator, error) {
		return generator.NewBrowser(opts)
	})
}
