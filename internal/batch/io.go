package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/segmentio/parquet-go"
)

// recordReader yields input records one at a time, io.EOF at end.
type recordReader interface {
	Read() (InputRecord, error)
	Close() error
}

// recordWriter persists output records in the target format.
type recordWriter interface {
	Write(OutputRecord) error
	Close() error
}

// openReader opens an input file with a reader matching its format.
func openReader(path string) (recordReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	switch DetectFileFormat(path) {
	case FormatParquet:
		return &parquetRecordReader{file: file, reader: parquet.NewReader(file)}, nil
	case FormatJSONL:
		return &jsonlRecordReader{file: file, decoder: json.NewDecoder(file)}, nil
	default:
		r, err := newCSVRecordReader(file)
		if err != nil {
			file.Close()
			return nil, err
		}
		return r, nil
	}
}

// openWriter creates the output file with a writer matching its
// format.
func openWriter(path string) (recordWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	switch DetectFileFormat(path) {
	case FormatParquet:
		return &parquetRecordWriter{file: file, writer: parquet.NewWriter(file)}, nil
	case FormatJSONL:
		return &jsonlRecordWriter{file: file, encoder: json.NewEncoder(file)}, nil
	default:
		w := &csvRecordWriter{file: file, writer: csv.NewWriter(file)}
		if err := w.writer.Write([]string{"record_id", "redacted_data_json", "is_pii"}); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write CSV header: %w", err)
		}
		return w, nil
	}
}

// csvRecordReader reads record_id,data_json rows, locating the two
// columns from the header.
type csvRecordReader struct {
	file    *os.File
	reader  *csv.Reader
	idCol   int
	dataCol int
}

func newCSVRecordReader(file *os.File) (*csvRecordReader, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	r := &csvRecordReader{file: file, reader: reader, idCol: -1, dataCol: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "record_id":
			r.idCol = i
		case "data_json":
			r.dataCol = i
		}
	}
	if r.idCol < 0 || r.dataCol < 0 {
		return nil, fmt.Errorf("CSV header missing record_id or data_json column: %v", header)
	}
	return r, nil
}

func (r *csvRecordReader) Read() (InputRecord, error) {
	row, err := r.reader.Read()
	if err != nil {
		return InputRecord{}, err
	}
	var rec InputRecord
	if r.idCol < len(row) {
		rec.RecordID = row[r.idCol]
	}
	if r.dataCol < len(row) {
		rec.DataJSON = row[r.dataCol]
	}
	return rec, nil
}

func (r *csvRecordReader) Close() error {
	return r.file.Close()
}

// jsonlRecordReader reads one JSON object per line. record_id may be a
// string or a number; data_json may be a JSON string or an embedded
// object.
type jsonlRecordReader struct {
	file    *os.File
	decoder *json.Decoder
}

type jsonlRecord struct {
	RecordID json.RawMessage `json:"record_id"`
	DataJSON json.RawMessage `json:"data_json"`
}

func (r *jsonlRecordReader) Read() (InputRecord, error) {
	var raw jsonlRecord
	if err := r.decoder.Decode(&raw); err != nil {
		return InputRecord{}, err
	}
	return InputRecord{
		RecordID: rawToString(raw.RecordID),
		DataJSON: rawToString(raw.DataJSON),
	}, nil
}

func (r *jsonlRecordReader) Close() error {
	return r.file.Close()
}

// rawToString unwraps a JSON string token, otherwise returns the raw
// text unchanged.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

type parquetRecordReader struct {
	file   *os.File
	reader *parquet.Reader
}

func (r *parquetRecordReader) Read() (InputRecord, error) {
	var rec InputRecord
	if err := r.reader.Read(&rec); err != nil {
		return InputRecord{}, err
	}
	return rec, nil
}

func (r *parquetRecordReader) Close() error {
	r.reader.Close()
	return r.file.Close()
}

type csvRecordWriter struct {
	file   *os.File
	writer *csv.Writer
}

func (w *csvRecordWriter) Write(rec OutputRecord) error {
	isPII := "false"
	if rec.IsPII {
		isPII = "true"
	}
	return w.writer.Write([]string{rec.RecordID, rec.DataJSON, isPII})
}

func (w *csvRecordWriter) Close() error {
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

type jsonlRecordWriter struct {
	file    *os.File
	encoder *json.Encoder
}

func (w *jsonlRecordWriter) Write(rec OutputRecord) error {
	return w.encoder.Encode(rec)
}

func (w *jsonlRecordWriter) Close() error {
	return w.file.Close()
}

type parquetRecordWriter struct {
	file   *os.File
	writer *parquet.Writer
}

func (w *parquetRecordWriter) Write(rec OutputRecord) error {
	return w.writer.Write(&rec)
}

func (w *parquetRecordWriter) Close() error {
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// discardWriter supports dry runs: records are processed and counted
// but never written.
type discardWriter struct{}

func (discardWriter) Write(OutputRecord) error { return nil }
func (discardWriter) Close() error             { return nil }
