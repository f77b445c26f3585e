package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd 根命令
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imageapp",
		Short: "imageapp - background removal and prompt-to-image service",
		Long: `imageapp removes image backgrounds with a local U2-Net model, a remote
rembg server or a ComfyUI BiRefNet workflow, and drives a web page in headless
Chrome to turn text prompts into images.

Run "imageapp serve" for the HTTP API, or use the remove / generate commands
for one-off jobs. Settings come from the environment and an optional .env file.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewRemoveCmd())
	cmd.AddCommand(NewGenerateCmd())
	cmd.AddCommand(NewModelCmd())

	return cmd
}

// Execute 执行根命令
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
