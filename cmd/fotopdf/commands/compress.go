package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/spherical/fotopdf/cmd/fotopdf/ui"
	"github.com/spherical/fotopdf/internal/domain"
	"github.com/spherical/fotopdf/pkg/fotopdf"
)

type compressOptions struct {
	level  string
	output string
}

func newCompressCmd(root *rootOptions) *cobra.Command {
	opts := &compressOptions{}
	cmd := &cobra.Command{
		Use:   "compress <in.pdf>",
		Short: "Shrink a PDF by re-encoding its images",
		Long: `Compress re-encodes the raster images embedded in a PDF at the quality of the
chosen level. Page count and page content are kept; images that cannot be
re-encoded are left as they are.`,
		Example: `  fotopdf compress report.pdf
  fotopdf compress --level high -o small.pdf scan.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompress(cmd, root, opts, args[0])
		},
	}
	cmd.Flags().StringVarP(&opts.level, "level", "l", "", "compression level: low, medium or high (default: compression.default_level)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (default: <name>-compressed.pdf next to the input)")
	return cmd
}

func runCompress(cmd *cobra.Command, root *rootOptions, opts *compressOptions, input string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	var level domain.CompressionLevel
	if opts.level != "" {
		var err error
		if level, err = domain.ParseLevel(opts.level); err != nil {
			return err
		}
	}

	client, err := root.newClient()
	if err != nil {
		return err
	}
	defer client.Close()
	if level == "" {
		level = client.DefaultLevel()
	}

	info, err := os.Stat(input)
	if err != nil {
		return fmt.Errorf("stat %s: %w", input, err)
	}

	spec, _ := domain.FindLevel(client.Levels(), level)
	ui.Section("PDF Compression")
	ui.Info("%s: %s, level %s (quality %g)", filepath.Base(input), ui.FormatSize(info.Size()), spec.Label, spec.Quality)
	ui.Info("Estimated output: %s", ui.FormatEstimate(domain.EstimateSize(info.Size(), spec.Quality)))

	spin := ui.NewSpinner("Re-encoding images...")
	spin.Start()
	res, err := client.CompressFile(ctx, input, level)
	spin.Stop()
	if err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}

	output := opts.output
	if output == "" {
		output = filepath.Join(filepath.Dir(input), res.Filename)
	}
	if err := os.WriteFile(output, res.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}

	printCompressionSummary(res)
	ui.Newline()
	ui.Success("Compressed PDF saved to %s", output)
	return nil
}

func printCompressionSummary(res *fotopdf.CompressionResult) {
	for _, o := range res.Outcomes {
		if o.Kind == domain.OutcomeSkipped {
			ui.Debug("page %d %s kept as is: %s", o.Page, o.Resource, o.Reason)
		}
	}
	if res.Limited {
		ui.Warning("%s", res.Advisory)
	}

	ui.Section("Summary")
	ui.Table([]string{"Metric", "Value"}, [][]string{
		{"Pages", strconv.Itoa(res.PageCount)},
		{"Original", ui.FormatSize(res.OriginalSize)},
		{"Estimated", ui.FormatEstimate(res.EstimatedSize)},
		{"Compressed", ui.FormatSize(res.CompressedSize)},
		{"Ratio", fmt.Sprintf("%.0f%%", res.Ratio()*100)},
		{"Images re-encoded", strconv.Itoa(res.Reencoded)},
		{"Images re-deflated", strconv.Itoa(res.Fallbacks)},
		{"Images kept", strconv.Itoa(res.Skipped)},
		{"Save mode", res.SaveMode},
	})
}
