package main

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/esg-data/internal/model"
	"github.com/sells-group/esg-data/internal/records"
)

var (
	importCompany  string
	importCategory string
	importFile     string
	importActor    string
	importManifest string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import csv, xlsx, xls or json files as new record versions",
	Long: "Imports one file (--company, --category, --file) or every entry of a YAML manifest (--manifest). " +
		"Files for different company/category pairs run concurrently; files for the same pair run in manifest order.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		m, err := buildManifest()
		if err != nil {
			return err
		}

		env, err := initApp(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		failed, err := processImports(ctx, m, cfg.Import.MaxConcurrentFiles, env.Service.ImportFile)
		if err != nil {
			return err
		}
		if failed > 0 {
			return eris.Errorf("import: %d of %d files failed", failed, len(m.Files))
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importCompany, "company", "", "company id")
	importCmd.Flags().StringVar(&importCategory, "category", "", "ESG category key")
	importCmd.Flags().StringVar(&importFile, "file", "", "path to the file to import")
	importCmd.Flags().StringVar(&importActor, "actor", "", "user id recorded on the new versions (default import.default_actor)")
	importCmd.Flags().StringVar(&importManifest, "manifest", "", "path to a YAML import manifest")
	rootCmd.AddCommand(importCmd)
}

// manifest lists files to import. Actor applies to entries without one.
type manifest struct {
	Actor string          `yaml:"actor"`
	Files []manifestEntry `yaml:"files"`
}

type manifestEntry struct {
	Company        string `yaml:"company"`
	Category       string `yaml:"category"`
	Path           string `yaml:"path"`
	Actor          string `yaml:"actor"`
	PeriodStart    string `yaml:"period_start"`
	PeriodEnd      string `yaml:"period_end"`
	OriginalSource string `yaml:"original_source"`
	Notes          string `yaml:"notes"`
}

func (e manifestEntry) key() model.RecordKey {
	return model.RecordKey{CompanyID: e.Company, Category: model.Category(e.Category)}
}

func (e manifestEntry) metadata() model.RecordMetadata {
	return model.RecordMetadata{
		PeriodStart:    e.PeriodStart,
		PeriodEnd:      e.PeriodEnd,
		OriginalSource: e.OriginalSource,
		Notes:          e.Notes,
	}
}

// buildManifest assembles the import work from the manifest file or flags.
func buildManifest() (*manifest, error) {
	var m *manifest
	if importManifest != "" {
		if importFile != "" {
			return nil, eris.New("import: --manifest and --file are mutually exclusive")
		}
		var err error
		if m, err = loadManifest(importManifest); err != nil {
			return nil, err
		}
	} else {
		if importCompany == "" || importCategory == "" || importFile == "" {
			return nil, eris.New("import: --company, --category and --file are required without --manifest")
		}
		m = &manifest{Files: []manifestEntry{{
			Company:  importCompany,
			Category: importCategory,
			Path:     importFile,
		}}}
	}

	fallback := importActor
	if fallback == "" {
		fallback = m.Actor
	}
	if fallback == "" && cfg != nil {
		fallback = cfg.Import.DefaultActor
	}
	for i := range m.Files {
		if m.Files[i].Actor == "" {
			m.Files[i].Actor = fallback
		}
	}
	return m, nil
}

func loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "import: read manifest %s", path)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "import: parse manifest %s", path)
	}
	if len(m.Files) == 0 {
		return nil, eris.Errorf("import: manifest %s lists no files", path)
	}

	// Relative paths resolve against the manifest's directory.
	dir := filepath.Dir(path)
	for i, e := range m.Files {
		if e.Company == "" || e.Category == "" || e.Path == "" {
			return nil, eris.Errorf("import: manifest entry %d needs company, category and path", i)
		}
		if !filepath.IsAbs(e.Path) {
			m.Files[i].Path = filepath.Join(dir, e.Path)
		}
	}
	return &m, nil
}

// importFunc is the callback signature for importing one file.
type importFunc func(ctx context.Context, key model.RecordKey, data []byte, fileName, actor string, meta model.RecordMetadata) (*records.ImportResult, error)

// processImports runs the manifest with at most concurrency aggregates in
// flight. Entries sharing a company and category run sequentially so their
// versions chain in manifest order. It returns the number of failed files.
func processImports(ctx context.Context, m *manifest, concurrency int, run importFunc) (int64, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	var order []model.RecordKey
	groups := make(map[model.RecordKey][]manifestEntry)
	for _, e := range m.Files {
		k := e.key()
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], e)
	}

	zap.L().Info("processing imports",
		zap.Int("files", len(m.Files)),
		zap.Int("aggregates", len(order)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64

	for _, k := range order {
		entries := groups[k]
		g.Go(func() error {
			for _, e := range entries {
				if err := gctx.Err(); err != nil {
					return err
				}
				log := zap.L().With(zap.String("key", k.String()), zap.String("file", e.Path))

				data, err := os.ReadFile(e.Path)
				if err != nil {
					failed.Add(1)
					log.Error("read import file failed", zap.Error(err))
					continue
				}

				res, err := run(gctx, k, data, filepath.Base(e.Path), e.Actor, e.metadata())
				if err != nil {
					failed.Add(1)
					log.Error("import failed", zap.Error(err))
					continue // don't abort the manifest on one bad file
				}

				succeeded.Add(1)
				log.Info("import complete",
					zap.String("record_id", res.Record.ID),
					zap.Int("version", res.Record.Version),
					zap.Int("metrics", len(res.Record.Metrics)),
					zap.Int("skipped_columns", len(res.Skipped)),
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return failed.Load(), eris.Wrap(err, "import processing")
	}

	zap.L().Info("imports complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return failed.Load(), nil
}
