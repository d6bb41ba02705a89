// Package fastq streams reads from FASTQ files.
package fastq

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Read is one FASTQ record.
type Read struct {
	ID       string
	Sequence string
	Quality  string
}

// Length returns the sequence length.
func (r *Read) Length() int {
	return len(r.Sequence)
}

// GCContent returns the G+C fraction of the sequence, 0 for an empty
// sequence.
func (r *Read) GCContent() float64 {
	if len(r.Sequence) == 0 {
		return 0
	}
	gc := 0
	for _, b := range strings.ToUpper(r.Sequence) {
		if b == 'G' || b == 'C' {
			gc++
		}
	}
	return float64(gc) / float64(len(r.Sequence))
}

// MeanQuality returns the mean Phred quality (offset 33), 0 for an
// empty quality string.
func (r *Read) MeanQuality() float64 {
	if len(r.Quality) == 0 {
		return 0
	}
	sum := 0
	for _, b := range []byte(r.Quality) {
		sum += int(b) - 33
	}
	return float64(sum) / float64(len(r.Quality))
}

// Reader streams FASTQ records from an input stream.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader creates a FASTQ reader.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Reader{scanner: scanner}
}

// Read returns the next record or io.EOF after the last one. Blank
// lines between records are skipped; a truncated or malformed record is
// an error.
func (r *Reader) Read() (*Read, error) {
	header, err := r.nextLine(true)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(header, "@") {
		return nil, fmt.Errorf("fastq: line %d: record header must start with '@', got %q", r.line, header)
	}

	sequence, err := r.nextLine(false)
	if err != nil {
		return nil, err
	}
	separator, err := r.nextLine(false)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(separator, "+") {
		return nil, fmt.Errorf("fastq: line %d: separator must start with '+', got %q", r.line, separator)
	}
	quality, err := r.nextLine(false)
	if err != nil {
		return nil, err
	}
	if len(quality) != len(sequence) {
		return nil, fmt.Errorf("fastq: line %d: quality length %d does not match sequence length %d",
			r.line, len(quality), len(sequence))
	}

	// The read id is the header token before the first space, without '@'.
	id := strings.TrimPrefix(header, "@")
	if i := strings.IndexByte(id, ' '); i >= 0 {
		id = id[:i]
	}

	return &Read{ID: id, Sequence: sequence, Quality: quality}, nil
}

func (r *Reader) nextLine(skipBlank bool) (string, error) {
	for r.scanner.Scan() {
		r.line++
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if line == "" && skipBlank {
			continue
		}
		if line == "" {
			return "", fmt.Errorf("fastq: line %d: unexpected blank line inside record", r.line)
		}
		return line, nil
	}
	if err := r.scanner.Err(); err != nil {
		return "", err
	}
	if skipBlank {
		return "", io.EOF
	}
	return "", fmt.Errorf("fastq: truncated record at line %d", r.line)
}

// ReadAll consumes the stream and returns every record.
func ReadAll(r io.Reader) ([]*Read, error) {
	reader := NewReader(r)
	var reads []*Read
	for {
		read, err := reader.Read()
		if err == io.EOF {
			return reads, nil
		}
		if err != nil {
			return nil, err
		}
		reads = append(reads, read)
	}
}
