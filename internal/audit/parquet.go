package audit

import (
	"fmt"
	"io"

	"github.com/segmentio/parquet-go"
)

// WriteParquet writes the retained record window as a Parquet file,
// one row per record, oldest first.
func (s *Sink) WriteParquet(w io.Writer) error {
	records := s.Window()

	writer := parquet.NewWriter(w)
	for _, rec := range records {
		row := toExportRow(rec)
		if err := writer.Write(&row); err != nil {
			return fmt.Errorf("failed to write audit row: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return nil
}
