// Package tables defines the relations the loader writes and builds
// engine record sets from parsed reads and classifications.
package tables

import (
	"fmt"

	metagdb "github.com/IOB-Muenster/MetagenomicsDB-sub001"
	"github.com/IOB-Muenster/MetagenomicsDB-sub001/readers/fastq"
	"github.com/IOB-Muenster/MetagenomicsDB-sub001/readers/kraken"
	"github.com/IOB-Muenster/MetagenomicsDB-sub001/readers/metag"
)

// Program names recorded in the class relation.
const (
	ProgramKraken = "kraken2"
	ProgramMetaG  = "metag"
)

// RankNone is the rank stored for classifications that carry no rank,
// such as Kraken's single-taxid result. rank is part of the class
// unique key, and NULL never equals NULL in a unique index, so a NULL
// rank would never conflict with the already stored row.
const RankNone = "no_rank"

var (
	// Sample is one sequencing run loaded into the store.
	Sample = mustSchema("sample",
		[]string{"name", "run_date", metagdb.AuditColumn},
		[]string{"name"},
	)

	// Read is one sequenced read with its derived statistics.
	Read = mustSchema("read",
		[]string{"id_sample", "read_id", "length", "gc_content", "mean_quality", metagdb.AuditColumn},
		[]string{"id_sample", "read_id"},
	)

	// Class is one per-read, per-rank taxonomic assignment.
	Class = mustSchema("class",
		[]string{"id_read", "program", "rank", "taxon", "tax_id", "score", metagdb.AuditColumn},
		[]string{"id_read", "program", "rank"},
	)
)

func mustSchema(table string, fields, uniqueFields []string) *metagdb.Schema {
	schema, err := metagdb.NewSchema(table, fields, uniqueFields)
	if err != nil {
		panic(err)
	}
	return schema
}

// SampleRecords builds the one-row record set for a sample.
func SampleRecords(name, runDate string, idChange int) *metagdb.RecordSet {
	rs := metagdb.NewRecordSet(Sample)
	rs.Append(map[string]any{
		"name":              name,
		"run_date":          runDate,
		metagdb.AuditColumn: idChange,
	})
	return rs
}

// ReadRecords builds the record set for a sample's FASTQ reads.
// sampleID is the surrogate id resolved for the sample.
func ReadRecords(sampleID any, reads []*fastq.Read, idChange int) *metagdb.RecordSet {
	rs := metagdb.NewRecordSet(Read)
	for _, read := range reads {
		rs.Append(map[string]any{
			"id_sample":         sampleID,
			"read_id":           read.ID,
			"length":            read.Length(),
			"gc_content":        read.GCContent(),
			"mean_quality":      read.MeanQuality(),
			metagdb.AuditColumn: idChange,
		})
	}
	return rs
}

// KrakenRecords builds class records from Kraken 2 classifications.
// readKeys maps read_id to the read's surrogate id (the engine's KeyMap
// for the read relation, projected as "read_id, id"). Unclassified
// reads produce no record. Kraken assigns a single taxid, stored under
// the RankNone sentinel.
func KrakenRecords(readKeys metagdb.KeyMap, classifications []*kraken.Classification, idChange int) (*metagdb.RecordSet, error) {
	rs := metagdb.NewRecordSet(Class)
	for _, c := range classifications {
		if !c.Classified {
			continue
		}
		idRead, ok := readKeys[c.ReadID]
		if !ok {
			return nil, fmt.Errorf("classification for unknown read %q", c.ReadID)
		}
		rs.Append(map[string]any{
			"id_read":           idRead,
			"program":           ProgramKraken,
			"rank":              RankNone,
			"taxon":             nil,
			"tax_id":            c.TaxID,
			"score":             nil,
			metagdb.AuditColumn: idChange,
		})
	}
	return rs, nil
}

// MetaGRecords builds class records from MetaG assignments, one per
// assigned rank. Unmatched ranks produce no record.
func MetaGRecords(readKeys metagdb.KeyMap, assignments []*metag.Assignment, idChange int) (*metagdb.RecordSet, error) {
	rs := metagdb.NewRecordSet(Class)
	for _, a := range assignments {
		idRead, ok := readKeys[a.ReadID]
		if !ok {
			return nil, fmt.Errorf("assignment for unknown read %q", a.ReadID)
		}
		for _, rt := range a.Lineage {
			if rt.Taxon == metag.Unmatched {
				continue
			}
			rs.Append(map[string]any{
				"id_read":           idRead,
				"program":           ProgramMetaG,
				"rank":              rt.Rank,
				"taxon":             rt.Taxon,
				"tax_id":            nil,
				"score":             rt.EValue,
				metagdb.AuditColumn: idChange,
			})
		}
	}
	return rs, nil
}
