// Package commands implements the fotopdf command tree.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spherical/fotopdf/cmd/fotopdf/ui"
	"github.com/spherical/fotopdf/pkg/fotopdf"
)

// rootOptions holds the persistent flags.
type rootOptions struct {
	cfgFile string
	verbose bool
	noColor bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "fotopdf",
		Short: "Turn photos into PDFs and shrink existing PDFs",
		Long: `fotopdf places images one per page into a PDF, scaled to fit and centred,
re-encodes the images inside existing PDFs to make them smaller, and suggests
a filename for the result.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.InitUI(opts.noColor, opts.verbose)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file path")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newConvertCmd(opts),
		newCompressCmd(opts),
		newSuggestCmd(opts),
		newPreviewCmd(opts),
		newLevelsCmd(opts),
		newShareCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig reads .env and the config file. Component logs stay quiet
// unless --verbose is set so they do not interleave with the progress UI.
func (o *rootOptions) loadConfig() (*fotopdf.Config, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	cfg, err := fotopdf.LoadConfig(o.cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.Observability.LogFormat = "console"
	if o.verbose {
		cfg.Observability.LogLevel = "debug"
	} else {
		cfg.Observability.LogLevel = "error"
	}
	return cfg, nil
}

func (o *rootOptions) newClient() (*fotopdf.Client, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return fotopdf.NewClientWithConfig(cfg)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			ui.Newline()
			ui.Warning("Received interrupt signal, stopping...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
