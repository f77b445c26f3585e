package cmd

import (
	"github.com/spf13/cobra"

	"github.com/chaos-io/imageapp/config"
	"github.com/chaos-io/imageapp/rembg"
)

// NewModelCmd 模型管理命令
func NewModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage the local U2-Net model",
	}
	cmd.AddCommand(newModelFetchCmd())
	return cmd
}

func newModelFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Download and verify the U2-Net model into U2NET_HOME",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			path, err := rembg.FetchModel(cmd.Context(), cfg.ModelDir, rembg.ModelSpec{
				URL: cfg.ModelURL,
				MD5: cfg.ModelMD5,
			})
			if err != nil {
				return err
			}
			cmd.Printf("Model ready: %s\n", path)
			return nil
		},
	}
}
