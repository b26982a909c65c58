package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/crmimport/internal/config"
	"github.com/JonMunkholm/crmimport/internal/importer"
	"github.com/JonMunkholm/crmimport/internal/source"
)

func newSuggestCmd(root *rootOptions) *cobra.Command {
	var (
		file      string
		delimiter string
		asJSON    bool
		mapping   bool
		minConf   float64
	)

	cmd := &cobra.Command{
		Use:   "suggest <contacts|deals>",
		Short: "Suggest a field for each column of a file header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := importer.ParseEntity(args[0])
			if err != nil {
				return err
			}

			in, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open %s: %w", file, err)
			}
			defer in.Close()

			src, err := source.Open(in, source.Options{
				Delimiter: (&config.ImportConfig{Delimiter: delimiter}).DelimiterRune(),
				Filename:  filepath.Base(file),
			})
			if err != nil {
				return err
			}
			defer src.Close()

			columns := src.Header().Columns()
			if mapping {
				return root.writeJSON(importer.SuggestMapping(columns, entity, minConf))
			}

			suggestions := importer.SuggestColumns(columns, entity)
			if asJSON {
				return root.writeJSON(suggestions)
			}

			tw := tabwriter.NewWriter(root.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "COLUMN\tFIELD\tCONFIDENCE")
			for _, s := range suggestions {
				field := s.SuggestedField
				if field == "" {
					field = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%.1f\n", s.Column, field, s.Confidence)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "CSV or XLSX file (required)")
	cmd.Flags().StringVar(&delimiter, "delimiter", "", "CSV delimiter, empty to detect")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print suggestions as JSON")
	cmd.Flags().BoolVar(&mapping, "mapping", false, "print a mapping file usable with import --mapping")
	cmd.Flags().Float64Var(&minConf, "min-confidence", importer.ConfidenceSynonym, "lowest confidence kept by --mapping")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
