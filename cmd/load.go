package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	metagdb "github.com/IOB-Muenster/MetagenomicsDB-sub001"
	"github.com/IOB-Muenster/MetagenomicsDB-sub001/config"
	"github.com/IOB-Muenster/MetagenomicsDB-sub001/database"
	"github.com/IOB-Muenster/MetagenomicsDB-sub001/logger"
	"github.com/IOB-Muenster/MetagenomicsDB-sub001/monitoring"
	"github.com/IOB-Muenster/MetagenomicsDB-sub001/readers/fastq"
	"github.com/IOB-Muenster/MetagenomicsDB-sub001/readers/kraken"
	"github.com/IOB-Muenster/MetagenomicsDB-sub001/readers/metag"
	"github.com/IOB-Muenster/MetagenomicsDB-sub001/tables"
)

var loadFlags struct {
	sample   string
	runDate  string
	fastq    string
	kraken   string
	metag    string
	idChange int
}

// loadCmd imports one sequencing run and its classifications inside a
// single transaction.
var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a sequencing run and its classifications",
	Long: `Loads a FASTQ file and optional Kraken 2 / MetaG classification
outputs into the store. The whole run is one transaction: any error
rolls everything back. Re-running the same load leaves the store
unchanged.`,
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

		var reporter *monitoring.PrometheusReporter
		if cfg.Loader.Metrics {
			reporter = monitoring.NewPrometheusReporter()
		}

		changed, err := runLoad(cmd.Context(), db, cfg, logg, reporter)
		if err != nil {
			return err
		}

		logg.Info("load finished",
			zap.String("sample", loadFlags.sample),
			zap.Bool("database_changed", changed),
		)

		// One-shot process: dump the collected metrics instead of
		// waiting for a scrape that never comes. stderr keeps stdout
		// clean for piped exports.
		if reporter != nil {
			if err := reporter.WriteText(os.Stderr); err != nil {
				logg.Warn("write metrics", zap.Error(err))
			}
		}
		return nil
	},
}

func runLoad(ctx context.Context, db *sql.DB, cfg *config.Config, logg *zap.Logger, reporter *monitoring.PrometheusReporter) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback()
	}()

	opts := []metagdb.Option{
		metagdb.WithLogger(logg),
		metagdb.WithBatchSize(cfg.Loader.BatchSize),
	}
	if reporter != nil {
		opts = append(opts, metagdb.WithMetricsReporter(reporter))
	}
	engine := metagdb.New(tx, opts...)

	changed := false

	// Sample row first: its surrogate id links the reads.
	sampleRecords := tables.SampleRecords(loadFlags.sample, loadFlags.runDate, loadFlags.idChange)
	sampleKeys, changed, err := engine.Upsert(ctx, tables.Sample,
		sampleRecords.Values(), sampleRecords.KeyValues(), changed, "name, id")
	if err != nil {
		return changed, err
	}
	sampleID, ok := sampleKeys[loadFlags.sample]
	if !ok {
		return changed, fmt.Errorf("sample %q not resolved after upsert", loadFlags.sample)
	}

	reads, err := readFastq(loadFlags.fastq)
	if err != nil {
		return changed, err
	}
	readRecords := tables.ReadRecords(sampleID, reads, loadFlags.idChange)
	readKeys, changed, err := engine.Upsert(ctx, tables.Read,
		readRecords.Values(), readRecords.KeyValues(), changed, "read_id, id")
	if err != nil {
		return changed, err
	}
	logg.Info("reads loaded", zap.Int("count", readRecords.Len()))

	if loadFlags.kraken != "" {
		records, err := readKrakenRecords(loadFlags.kraken, readKeys)
		if err != nil {
			return changed, err
		}
		if records.Len() > 0 {
			_, changed, err = engine.Upsert(ctx, tables.Class,
				records.Values(), records.KeyValues(), changed, "")
			if err != nil {
				return changed, err
			}
		}
		logg.Info("kraken classifications loaded", zap.Int("count", records.Len()))
	}

	if loadFlags.metag != "" {
		records, err := readMetaGRecords(loadFlags.metag, readKeys)
		if err != nil {
			return changed, err
		}
		if records.Len() > 0 {
			_, changed, err = engine.Upsert(ctx, tables.Class,
				records.Values(), records.KeyValues(), changed, "")
			if err != nil {
				return changed, err
			}
		}
		logg.Info("metag assignments loaded", zap.Int("count", records.Len()))
	}

	if err := tx.Commit(); err != nil {
		return changed, fmt.Errorf("commit transaction: %w", err)
	}
	return changed, nil
}

func readFastq(path string) ([]*fastq.Read, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return fastq.ReadAll(f)
}

func readKrakenRecords(path string, readKeys metagdb.KeyMap) (*metagdb.RecordSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classifications, err := kraken.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return tables.KrakenRecords(readKeys, classifications, loadFlags.idChange)
}

func readMetaGRecords(path string, readKeys metagdb.KeyMap) (*metagdb.RecordSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	assignments, err := metag.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return tables.MetaGRecords(readKeys, assignments, loadFlags.idChange)
}

func init() {
	loadCmd.Flags().StringVar(&loadFlags.sample, "sample", "", "sample name (required)")
	loadCmd.Flags().StringVar(&loadFlags.runDate, "run-date", "", "sequencing run date, YYYY-MM-DD")
	loadCmd.Flags().StringVar(&loadFlags.fastq, "fastq", "", "FASTQ file to load (required)")
	loadCmd.Flags().StringVar(&loadFlags.kraken, "kraken", "", "Kraken 2 per-read output")
	loadCmd.Flags().StringVar(&loadFlags.metag, "metag", "", "MetaG per-read output")
	loadCmd.Flags().IntVar(&loadFlags.idChange, "change", 0, "change id stamped on every written row (required)")
	_ = loadCmd.MarkFlagRequired("sample")
	_ = loadCmd.MarkFlagRequired("fastq")
	_ = loadCmd.MarkFlagRequired("change")

	RootCmd.AddCommand(loadCmd)
}
