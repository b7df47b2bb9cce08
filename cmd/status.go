package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/esg-data/internal/catalog"
	"github.com/sells-group/esg-data/internal/monitoring"
)

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the ESG categories of the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		formatCategories(os.Stdout, cat)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show record counts per category",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, "records")
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := monitoring.NewCollector(env.Store, nil).Collect(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		formatStatus(os.Stdout, snap)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(categoriesCmd, statusCmd)
}

// formatCategories writes one line per catalog category to out.
func formatCategories(out io.Writer, cat *catalog.Catalog) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tNAME\tRECORD TYPE\tMETRIC CATEGORIES")
	for _, c := range cat.Categories {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Key, c.Name, c.RecordType, strings.Join(c.MetricCategories, ", "))
	}
	_ = w.Flush()
}

// formatStatus writes store totals followed by per-category counts to out.
func formatStatus(out io.Writer, snap *monitoring.MetricsSnapshot) {
	_, _ = fmt.Fprintf(out, "records: %d  active: %d  companies: %d\n\n", snap.Records, snap.ActiveRecords, snap.Companies)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CATEGORY\tRECORDS\tACTIVE\tCOMPANIES")
	_, _ = fmt.Fprintln(w, "--------\t-------\t------\t---------")
	for _, c := range snap.Categories {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", c.Category, c.Records, c.ActiveRecords, c.Companies)
	}
	_ = w.Flush()
}
