// Package export writes classification aggregates in formats consumed
// by downstream visualization tools.
package export

import (
	"fmt"
	"io"
	"strings"
)

// KronaRow is one aggregated lineage with its read count.
type KronaRow struct {
	Reads   int
	Lineage []string
}

// WriteKrona writes rows as Krona text input: the read count followed
// by the tab-separated lineage, one line per row. Empty lineage ranks
// are dropped so Krona does not render blank wedges.
func WriteKrona(w io.Writer, rows []KronaRow) error {
	for _, row := range rows {
		lineage := make([]string, 0, len(row.Lineage))
		for _, rank := range row.Lineage {
			if strings.TrimSpace(rank) == "" {
				continue
			}
			lineage = append(lineage, rank)
		}
		line := fmt.Sprintf("%d", row.Reads)
		if len(lineage) > 0 {
			line += "\t" + strings.Join(lineage, "\t")
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}
