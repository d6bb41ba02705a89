package cmd

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/IOB-Muenster/MetagenomicsDB-sub001/config"
	"github.com/IOB-Muenster/MetagenomicsDB-sub001/database"
	"github.com/IOB-Muenster/MetagenomicsDB-sub001/export"
	"github.com/IOB-Muenster/MetagenomicsDB-sub001/logger"
	"github.com/IOB-Muenster/MetagenomicsDB-sub001/tables"
)

var exportFlags struct {
	sample  string
	program string
	out     string
}

// exportCmd writes per-taxon read counts for one sample as Krona text.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export classification counts for Krona",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(".")
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		logg, err := logger.New(&cfg.Log)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		defer logg.Sync()

		db, err := database.Connect(cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		rows, err := taxonCounts(db, exportFlags.sample, exportFlags.program)
		if err != nil {
			return err
		}

		out := os.Stdout
		if exportFlags.out != "" {
			f, err := os.Create(exportFlags.out)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}

		if err := export.WriteKrona(out, rows); err != nil {
			return err
		}
		logg.Info("export finished",
			zap.String("sample", exportFlags.sample),
			zap.Int("taxa", len(rows)),
		)
		return nil
	},
}

// taxonCounts aggregates read counts per rank and taxon for one sample.
// The rank sentinel collapses to "" so it is dropped from the lineage.
func taxonCounts(db *sql.DB, sample, program string) ([]export.KronaRow, error) {
	const query = `SELECT COUNT(*), COALESCE(NULLIF(c.rank, $3), ''), COALESCE(c.taxon, c.tax_id::text)
		FROM class c
		JOIN read r ON r.id = c.id_read
		JOIN sample s ON s.id = r.id_sample
		WHERE s.name = $1 AND c.program = $2
		GROUP BY c.rank, c.taxon, c.tax_id
		ORDER BY COUNT(*) DESC`

	rows, err := db.Query(query, sample, program, tables.RankNone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []export.KronaRow
	for rows.Next() {
		var reads int
		var rank, taxon string
		if err := rows.Scan(&reads, &rank, &taxon); err != nil {
			return nil, err
		}
		result = append(result, export.KronaRow{Reads: reads, Lineage: []string{rank, taxon}})
	}
	return result, rows.Err()
}

func init() {
	exportCmd.Flags().StringVar(&exportFlags.sample, "sample", "", "sample name (required)")
	exportCmd.Flags().StringVar(&exportFlags.program, "program", "metag", "classification program (kraken2, metag)")
	exportCmd.Flags().StringVar(&exportFlags.out, "out", "", "output file (default stdout)")
	_ = exportCmd.MarkFlagRequired("sample")

	RootCmd.AddCommand(exportCmd)
}
