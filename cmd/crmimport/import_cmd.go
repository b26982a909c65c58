package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/crmimport/internal/config"
	"github.com/JonMunkholm/crmimport/internal/importer"
	"github.com/JonMunkholm/crmimport/internal/source"
)

// errAborted is returned after printing a fatal result so the process exits
// non-zero.
var errAborted = errors.New("import aborted, see errors in output")

type importFlags struct {
	file            string
	mapping         string
	autoMap         bool
	minConfidence   float64
	dryRun          bool
	pipeline        string
	actor           string
	defaultAssignee string
	delimiter       string
}

func newImportCmd(root *rootOptions) *cobra.Command {
	var f importFlags

	cmd := &cobra.Command{
		Use:   "import <contacts|deals>",
		Short: "Import a file of contacts or deals",
		Long: `Import reads a CSV or XLSX file and creates or updates records.

The mapping file holds either a full request
  {"mapping": {...}, "actor": "<uuid>", "pipeline": "<uuid>", "dryRun": true}
or only the field mapping
  {"fullName": "Name", "email": "E-mail", "socialLinks": {"telegram": "TG"}}.
Flags override values from the file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := importer.ParseEntity(args[0])
			if err != nil {
				return err
			}

			payload, err := loadPayload(f.mapping)
			if err != nil {
				return err
			}
			if err := f.apply(cmd, &payload); err != nil {
				return err
			}

			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			in, err := os.Open(f.file)
			if err != nil {
				return fmt.Errorf("open %s: %w", f.file, err)
			}
			defer in.Close()

			delim := app.Config.Import.DelimiterRune()
			if f.delimiter != "" {
				delim = (&config.ImportConfig{Delimiter: f.delimiter}).DelimiterRune()
			}
			src, err := source.Open(in, source.Options{Delimiter: delim, Filename: filepath.Base(f.file)})
			if err != nil {
				return err
			}
			defer src.Close()

			if f.autoMap {
				payload.Mapping = mergeMapping(payload.Mapping,
					importer.SuggestMapping(src.Header().Columns(), entity, f.minConfidence))
			}
			if len(payload.Mapping) == 0 {
				return errors.New("no mapping: pass --mapping or --auto-map")
			}

			res, err := app.Service.Import(cmd.Context(), payload.Request(entity), src)
			if err != nil {
				return err
			}
			if err := root.writeJSON(res); err != nil {
				return err
			}
			if res.Fatal() {
				return errAborted
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&f.file, "file", "f", "", "CSV or XLSX file to import (required)")
	cmd.Flags().StringVarP(&f.mapping, "mapping", "m", "", "JSON mapping or request file")
	cmd.Flags().BoolVar(&f.autoMap, "auto-map", false, "map unmapped fields from column suggestions")
	cmd.Flags().Float64Var(&f.minConfidence, "min-confidence", importer.ConfidenceSynonym, "lowest suggestion confidence used by --auto-map")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "validate and report without writing")
	cmd.Flags().StringVar(&f.pipeline, "pipeline", "", "target pipeline id (deals)")
	cmd.Flags().StringVar(&f.actor, "actor", "", "id of the user performing the import")
	cmd.Flags().StringVar(&f.defaultAssignee, "default-assignee", "", "owner id for rows without an owner")
	cmd.Flags().StringVar(&f.delimiter, "delimiter", "", `CSV delimiter; "\t" for tab, empty to detect`)
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// apply copies explicitly set flags onto p.
func (f *importFlags) apply(cmd *cobra.Command, p *importer.RequestPayload) error {
	if cmd.Flags().Changed("dry-run") {
		p.DryRun = f.dryRun
	}
	refs := []struct {
		flag  string
		value string
		dst   *importer.Ref
	}{
		{"pipeline", f.pipeline, &p.Pipeline},
		{"actor", f.actor, &p.Actor},
		{"default-assignee", f.defaultAssignee, &p.DefaultAssignee},
	}
	for _, r := range refs {
		if r.value == "" {
			continue
		}
		id, err := uuid.Parse(r.value)
		if err != nil {
			return fmt.Errorf("invalid --%s: %w", r.flag, err)
		}
		*r.dst = importer.RefTo(id)
	}
	return nil
}

// loadPayload reads a request or bare mapping file. An empty path gives an
// empty payload.
func loadPayload(path string) (importer.RequestPayload, error) {
	var p importer.RequestPayload
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read mapping: %w", err)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return p, fmt.Errorf("parse error: mapping %s: %w", path, err)
	}
	if _, ok := probe["mapping"]; ok {
		if err := json.Unmarshal(data, &p); err != nil {
			return p, fmt.Errorf("parse error: mapping %s: %w", path, err)
		}
		return p, nil
	}
	if err := json.Unmarshal(data, &p.Mapping); err != nil {
		return p, fmt.Errorf("parse error: mapping %s: %w", path, err)
	}
	return p, nil
}

// mergeMapping adds suggested bindings for fields base does not map.
func mergeMapping(base, suggested importer.FieldMapping) importer.FieldMapping {
	if base == nil {
		base = make(importer.FieldMapping, len(suggested))
	}
	for field, b := range suggested {
		if !base.Has(field) {
			base[field] = b
		}
	}
	return base
}
