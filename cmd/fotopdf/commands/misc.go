package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical/fotopdf/cmd/fotopdf/ui"
)

// ErrSharingUnsupported is returned by the share command.
var ErrSharingUnsupported = errors.New("sharing is not supported")

func newSuggestCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "suggest <names...>",
		Short: "Suggest a PDF filename for a set of image names",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			names := make([]string, len(args))
			for i, a := range args {
				names[i] = filepath.Base(a)
			}

			spin := ui.NewSpinner("Asking for a filename...")
			spin.Start()
			s := client.SuggestFilename(cmd.Context(), names)
			spin.Stop()

			if s.Err != nil {
				ui.Debug("suggestion fell back: %v", s.Err)
			}
			ui.Success("%s", s.Filename)
			ui.Info("source: %s", s.Source)
			return nil
		},
	}
}

type previewOptions struct {
	page   int
	output string
}

func newPreviewCmd(root *rootOptions) *cobra.Command {
	opts := &previewOptions{}
	cmd := &cobra.Command{
		Use:   "preview <in.pdf>",
		Short: "Render one page of a PDF to a JPEG thumbnail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			client, err := root.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			data, err := os.ReadFile(input)
			if err != nil {
				return fmt.Errorf("read %s: %w", input, err)
			}
			thumb, err := client.Preview(cmd.Context(), data, opts.page)
			if err != nil {
				return err
			}

			output := opts.output
			if output == "" {
				base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
				output = fmt.Sprintf("%s-p%d.jpg", base, opts.page)
			}
			if err := os.WriteFile(output, thumb, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			ui.Success("Page %d preview saved to %s (%s)", opts.page, output, ui.FormatSize(int64(len(thumb))))
			return nil
		},
	}
	cmd.Flags().IntVarP(&opts.page, "page", "p", 1, "page number, starting at 1")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (default: <name>-p<page>.jpg)")
	return cmd
}

func newLevelsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "levels",
		Short: "List the compression levels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			rows := [][]string{}
			for _, l := range client.Levels() {
				maxDim := "-"
				if l.MaxImageDimension > 0 {
					maxDim = strconv.Itoa(l.MaxImageDimension) + "px"
				}
				rows = append(rows, []string{
					string(l.Level),
					l.Label,
					strconv.FormatFloat(l.Quality, 'g', -1, 64),
					maxDim,
					l.Description,
				})
			}
			ui.Table([]string{"Level", "Label", "Quality", "Max size", "Description"}, rows)
			return nil
		},
	}
}

func newShareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "share <file>",
		Short: "Share a generated PDF (not available from the command line)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return fmt.Errorf("stat %s: %w", args[0], err)
			}
			ui.Warning("There is no share target on this platform; the file is at %s", args[0])
			return ErrSharingUnsupported
		},
	}
}
