package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yudai-dev/yudai/internal/config"
)

var gitignoreTemplate = `# run artifacts written by yudai
*
`

func initCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration into the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdInit(configFile, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "yudai.toml", "configuration file to create")
	return cmd
}

func cmdInit(configFile string, out io.Writer) error {
	if err := os.MkdirAll(".yudai", 0o755); err != nil {
		return fmt.Errorf("creating .yudai/: %w", err)
	}

	// Existing files are left alone.
	files := []struct{ path, content string }{
		{configFile, config.Sample},
		{filepath.Join(".yudai", ".gitignore"), gitignoreTemplate},
	}
	for _, f := range files {
		if _, err := os.Stat(f.path); err == nil {
			fmt.Fprintf(out, "  skip %s (already exists)\n", f.path)
			continue
		}
		if err := os.WriteFile(f.path, []byte(f.content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", f.path, err)
		}
		fmt.Fprintf(out, "  create %s\n", f.path)
	}

	cwd, _ := os.Getwd()
	fmt.Fprintf(out, "\nInitialized yudai in %s\n", filepath.Base(cwd))
	fmt.Fprintf(out, "\nNext steps:\n")
	fmt.Fprintf(out, "  1. Edit %s and pick a model\n", configFile)
	fmt.Fprintf(out, "  2. export OPENROUTER_API_KEY=...\n")
	fmt.Fprintf(out, "  3. yudai run --task \"...\"\n")
	return nil
}
