// Package kraken reads per-read classifications from Kraken 2 standard
// output (the five tab-separated columns written without --use-names).
package kraken

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Classification is one classified or unclassified read.
type Classification struct {
	Classified bool
	ReadID     string
	TaxID      int
	Length     int
	// LCAMapping is the raw taxid:kmer-count list, e.g. "562:13 561:4".
	LCAMapping string
}

// Reader streams Kraken 2 per-read output.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader creates a Kraken 2 output reader.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{scanner: scanner}
}

// Read returns the next classification or io.EOF after the last line.
func (r *Reader) Read() (*Classification, error) {
	for r.scanner.Scan() {
		r.line++
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 5 {
			return nil, fmt.Errorf("kraken: line %d: expected 5 tab-separated columns, got %d", r.line, len(fields))
		}

		var classified bool
		switch fields[0] {
		case "C":
			classified = true
		case "U":
			classified = false
		default:
			return nil, fmt.Errorf("kraken: line %d: classification flag must be C or U, got %q", r.line, fields[0])
		}

		taxID, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("kraken: line %d: invalid taxid %q", r.line, fields[2])
		}

		// Paired reads report length as "len1|len2"; the first mate's
		// length is kept.
		lengthField := fields[3]
		if i := strings.IndexByte(lengthField, '|'); i >= 0 {
			lengthField = lengthField[:i]
		}
		length, err := strconv.Atoi(lengthField)
		if err != nil {
			return nil, fmt.Errorf("kraken: line %d: invalid read length %q", r.line, fields[3])
		}

		return &Classification{
			Classified: classified,
			ReadID:     fields[1],
			TaxID:      taxID,
			Length:     length,
			LCAMapping: fields[4],
		}, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// ReadAll consumes the stream and returns every classification.
func ReadAll(r io.Reader) ([]*Classification, error) {
	reader := NewReader(r)
	var classifications []*Classification
	for {
		c, err := reader.Read()
		if err == io.EOF {
			return classifications, nil
		}
		if err != nil {
			return nil, err
		}
		classifications = append(classifications, c)
	}
}
