package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/esg-data/internal/model"
	"github.com/sells-group/esg-data/internal/records"
)

var (
	recordsCompany  string
	recordsCategory string
	recordsActor    string

	showIncludeInactive bool
	versionsLimit       int
	versionsOffset      int
	exportFormat        string
	exportOut           string
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect and manage versioned records of one company and category",
}

var recordsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active record as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, "records")
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Service.GetActive(ctx, recordsKey(), showIncludeInactive)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, rec)
	},
}

var recordsVersionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List record versions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, "records")
		if err != nil {
			return err
		}
		defer env.Close()

		versions, err := env.Service.ListVersions(ctx, recordsKey(), versionsLimit, versionsOffset)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			zap.L().Info("no versions found", zap.String("key", recordsKey().String()))
			return nil
		}
		formatVersions(os.Stdout, versions)
		return nil
	},
}

var recordsRestoreCmd = &cobra.Command{
	Use:   "restore <version-id>",
	Short: "Restore a version as the new active record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, "records")
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Service.RestoreVersion(ctx, recordsKey(), args[0], recordsActorOrDefault())
		if err != nil {
			return err
		}
		zap.L().Info("version restored",
			zap.String("record_id", rec.ID),
			zap.Int("version", rec.Version),
			zap.String("restored_from", rec.RestoredFrom),
		)
		return nil
	},
}

var recordsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the active record and store the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, "records")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Service.ValidateData(ctx, recordsKey(), recordsActorOrDefault())
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, report)
	},
}

var recordsDeleteMetricCmd = &cobra.Command{
	Use:   "delete-metric <metric-id>",
	Short: "Soft-delete a metric of the active record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, "records")
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Service.DeleteMetric(ctx, recordsKey(), args[0], recordsActorOrDefault())
		if err != nil {
			return err
		}
		zap.L().Info("metric deleted",
			zap.String("record_id", rec.ID),
			zap.String("metric_id", args[0]),
			zap.Int("active_metrics", len(rec.ActiveMetrics())),
		)
		return nil
	},
}

var recordsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the active record as csv or xlsx",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, "records")
		if err != nil {
			return err
		}
		defer env.Close()

		file, err := env.Service.Export(ctx, recordsKey(), records.ExportFormat(exportFormat))
		if err != nil {
			return err
		}
		out := exportOut
		if out == "" {
			out = file.Name
		}
		if err := os.WriteFile(out, file.Data, 0o644); err != nil {
			return eris.Wrapf(err, "write export %s", out)
		}
		zap.L().Info("export written", zap.String("path", out), zap.Int("bytes", len(file.Data)))
		return nil
	},
}

func init() {
	recordsCmd.PersistentFlags().StringVar(&recordsCompany, "company", "", "company id (required)")
	recordsCmd.PersistentFlags().StringVar(&recordsCategory, "category", "", "ESG category key (required)")
	recordsCmd.PersistentFlags().StringVar(&recordsActor, "actor", "", "user id for write commands (default import.default_actor)")
	_ = recordsCmd.MarkPersistentFlagRequired("company")
	_ = recordsCmd.MarkPersistentFlagRequired("category")

	recordsShowCmd.Flags().BoolVar(&showIncludeInactive, "include-inactive", false, "include soft-deleted metrics")
	recordsVersionsCmd.Flags().IntVar(&versionsLimit, "limit", 20, "max versions to list")
	recordsVersionsCmd.Flags().IntVar(&versionsOffset, "offset", 0, "versions to skip")
	recordsExportCmd.Flags().StringVar(&exportFormat, "format", "csv", "export format: csv or xlsx")
	recordsExportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default {company}_{category}_v{N}.{format})")

	recordsCmd.AddCommand(recordsShowCmd, recordsVersionsCmd, recordsRestoreCmd,
		recordsValidateCmd, recordsDeleteMetricCmd, recordsExportCmd)
	rootCmd.AddCommand(recordsCmd)
}

func recordsKey() model.RecordKey {
	return model.RecordKey{CompanyID: recordsCompany, Category: model.Category(recordsCategory)}
}

func recordsActorOrDefault() string {
	if recordsActor != "" {
		return recordsActor
	}
	if cfg != nil {
		return cfg.Import.DefaultActor
	}
	return ""
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}

// formatVersions writes a tabular listing of record versions to out.
func formatVersions(out io.Writer, versions []model.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VERSION\tID\tACTIVE\tSOURCE\tMETRICS\tVALIDATION\tUPDATED BY\tUPDATED")
	_, _ = fmt.Fprintln(w, "-------\t--\t------\t------\t-------\t----------\t----------\t-------")

	for _, r := range versions {
		source := string(r.ImportSource)
		if r.SourceFileName != "" {
			source += " (" + truncate(r.SourceFileName, 30) + ")"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%d\t%s\t%s\t%s\n",
			r.Version,
			r.ID,
			r.IsActive,
			source,
			len(r.ActiveMetrics()),
			r.ValidationStatus,
			r.LastUpdatedBy,
			r.LastUpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
