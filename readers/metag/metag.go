// Package metag reads per-read taxonomic assignments from MetaG output:
// one tab-separated line per rank (read id, rank, taxon, e-value),
// consecutive lines of one read forming its lineage. Ranks MetaG could
// not assign carry the taxon UNMATCHED.
package metag

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Unmatched is the taxon MetaG emits for ranks it could not assign.
const Unmatched = "UNMATCHED"

// RankTaxon is one rank of a read's lineage.
type RankTaxon struct {
	Rank   string
	Taxon  string
	EValue float64
}

// Assignment is the full lineage MetaG assigned to one read.
type Assignment struct {
	ReadID  string
	Lineage []RankTaxon
}

// Matched reports whether any rank of the lineage was assigned.
func (a *Assignment) Matched() bool {
	for _, rt := range a.Lineage {
		if rt.Taxon != Unmatched {
			return true
		}
	}
	return false
}

// Taxon returns the most specific assigned taxon, or Unmatched.
func (a *Assignment) Taxon() string {
	for i := len(a.Lineage) - 1; i >= 0; i-- {
		if a.Lineage[i].Taxon != Unmatched {
			return a.Lineage[i].Taxon
		}
	}
	return Unmatched
}

// Reader streams MetaG assignments, grouping rank lines per read.
type Reader struct {
	scanner *bufio.Scanner
	line    int
	pending *Assignment
	done    bool
}

// NewReader creates a MetaG output reader.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{scanner: scanner}
}

// Read returns the next read's assignment or io.EOF after the last one.
func (r *Reader) Read() (*Assignment, error) {
	for !r.done && r.scanner.Scan() {
		r.line++
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 4 {
			return nil, fmt.Errorf("metag: line %d: expected 4 tab-separated columns, got %d", r.line, len(fields))
		}
		eValue, err := strconv.ParseFloat(fields[3], 64)
		if err != nil && fields[3] != "-" {
			return nil, fmt.Errorf("metag: line %d: invalid e-value %q", r.line, fields[3])
		}

		rankTaxon := RankTaxon{Rank: fields[1], Taxon: fields[2], EValue: eValue}

		if r.pending != nil && r.pending.ReadID != fields[0] {
			finished := r.pending
			r.pending = &Assignment{ReadID: fields[0], Lineage: []RankTaxon{rankTaxon}}
			return finished, nil
		}
		if r.pending == nil {
			r.pending = &Assignment{ReadID: fields[0]}
		}
		r.pending.Lineage = append(r.pending.Lineage, rankTaxon)
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	r.done = true
	if r.pending != nil {
		finished := r.pending
		r.pending = nil
		return finished, nil
	}
	return nil, io.EOF
}

// ReadAll consumes the stream and returns every assignment.
func ReadAll(r io.Reader) ([]*Assignment, error) {
	reader := NewReader(r)
	var assignments []*Assignment
	for {
		a, err := reader.Read()
		if err == io.EOF {
			return assignments, nil
		}
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
}
