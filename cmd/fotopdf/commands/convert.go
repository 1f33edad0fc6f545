package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/spherical/fotopdf/cmd/fotopdf/ui"
	"github.com/spherical/fotopdf/pkg/fotopdf"
)

type convertOptions struct {
	output      string
	page        string
	margin      float64
	orientation string
	name        string
	noSuggest   bool
}

func newConvertCmd(root *rootOptions) *cobra.Command {
	opts := &convertOptions{}
	cmd := &cobra.Command{
		Use:   "convert <images...>",
		Short: "Combine images into a PDF, one image per page",
		Long: `Convert places each image on its own page, scaled to the printable area and
centred. Images that cannot be decoded are skipped and reported. Unless a name
is given, the output file is named by the filename advisor.`,
		Example: `  fotopdf convert beach.jpg sunset.png
  fotopdf convert -o album.pdf --page letter --orientation auto *.jpg`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, root, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (default: suggested name in the current directory)")
	cmd.Flags().StringVar(&opts.page, "page", "", "page size: A3, A4, A5, letter or legal (default from config)")
	cmd.Flags().Float64Var(&opts.margin, "margin", 0, "page margin in page units (default from config)")
	cmd.Flags().StringVar(&opts.orientation, "orientation", "", "portrait, landscape or auto (default from config)")
	cmd.Flags().StringVar(&opts.name, "name", "", "use this filename instead of a suggestion")
	cmd.Flags().BoolVar(&opts.noSuggest, "no-suggest", false, "skip the filename advisor")
	return cmd
}

func runConvert(cmd *cobra.Command, root *rootOptions, opts *convertOptions, paths []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	cfg, err := root.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("page") {
		cfg.Page.Size = opts.page
	}
	if cmd.Flags().Changed("margin") {
		cfg.Page.Margin = opts.margin
	}
	if cmd.Flags().Changed("orientation") {
		cfg.Page.Orientation = opts.orientation
	}

	client, err := fotopdf.NewClientWithConfig(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	assets, err := client.LoadImageFiles(paths)
	if err != nil {
		return err
	}

	g := client.Geometry()
	ui.Section("Image to PDF")
	ui.Info("%d images on %s pages (%g×%g %s, margin %g, %s)",
		len(assets), g.SizeName, g.Width, g.Height, g.Unit, g.Margin, g.Orientation)

	job, err := client.ConvertStream(ctx, assets, fotopdf.ConvertOptions{
		Filename:  opts.name,
		NoSuggest: opts.noSuggest,
	}, nil)
	if err != nil {
		return err
	}

	skipped := consumeConvertEvents(job, len(assets), opts.name == "" && !opts.noSuggest)

	res, err := job.Wait()
	if err != nil {
		return fmt.Errorf("conversion failed: %w", err)
	}

	output := opts.output
	if output == "" {
		output = res.Document.Filename
	}
	if err := os.WriteFile(output, res.Document.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}

	for _, s := range skipped {
		ui.Warning("Skipped %s (%s): %s", s.Name, s.Stage, s.Message())
	}

	ui.Section("Summary")
	ui.Table([]string{"Metric", "Value"}, [][]string{
		{"Pages", strconv.Itoa(res.Document.PageCount)},
		{"Skipped", strconv.Itoa(len(res.Document.ItemErrors))},
		{"Size", ui.FormatSize(res.Document.Size())},
		{"Filename", fmt.Sprintf("%s (%s)", res.Document.Filename, res.Suggestion.Source)},
		{"Duration", ui.FormatDuration(res.Stats.TotalTime)},
	})
	ui.Newline()
	ui.Success("PDF saved to %s", output)
	return nil
}

// consumeConvertEvents drives the progress display until the event stream
// closes, returning the images that were skipped.
func consumeConvertEvents(job *fotopdf.Job, total int, naming bool) []fotopdf.ItemError {
	bar := ui.NewProgressBar(int64(total), "Placing images")
	var spin *ui.Spinner
	var skipped []fotopdf.ItemError

	for evt := range job.Events {
		switch evt.Type {
		case fotopdf.EventImageComplete, fotopdf.EventImageSkipped:
			bar.Set(int64(evt.Index))
			if p, ok := evt.Payload.(fotopdf.ImageProgress); ok {
				if p.Error != nil {
					skipped = append(skipped, *p.Error)
				}
				ui.Debug("%s done", p.Name)
			}
			if evt.Index == evt.Total {
				bar.Finish()
				if naming {
					spin = ui.NewSpinner("Suggesting a filename...")
					spin.Start()
				}
			}
		case fotopdf.EventNaming, fotopdf.EventError:
			if spin != nil {
				spin.Stop()
				spin = nil
			}
		}
	}
	if spin != nil {
		spin.Stop()
	}
	return skipped
}
