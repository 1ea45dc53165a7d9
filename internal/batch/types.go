package batch

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/madhavanrx18/soc-challenge/internal/pii"
)

// InputRecord is a single record from the input dataset: an opaque
// record identifier and the payload to redact.
type InputRecord struct {
	RecordID string `csv:"record_id" parquet:"record_id" json:"record_id"`
	DataJSON string `csv:"data_json" parquet:"data_json" json:"data_json"`
}

// OutputRecord is the redacted form of an input record. IsPII reports
// whether any span was redacted anywhere in the record.
type OutputRecord struct {
	RecordID string `csv:"record_id" parquet:"record_id" json:"record_id"`
	DataJSON string `csv:"redacted_data_json" parquet:"redacted_data_json" json:"redacted_data_json"`
	IsPII    bool   `csv:"is_pii" parquet:"is_pii" json:"is_pii"`
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords    int64                  `json:"total_records"`
	ProcessedOK     int64                  `json:"processed_ok"`
	ProcessedFailed int64                  `json:"processed_failed"`
	PIIRecords      int64                  `json:"pii_records"`
	TimedOut        int64                  `json:"timed_out"`
	Malformed       int64                  `json:"malformed"`
	Categories      map[pii.Category]int64 `json:"categories,omitempty"`
	Duration        time.Duration          `json:"duration"`
	ScanTime        time.Duration          `json:"scan_time"`
	WriteTime       time.Duration          `json:"write_time"`
	Errors          []string               `json:"errors,omitempty"`
}

// Config contains batch pipeline configuration
type Config struct {
	Tenant         string `yaml:"tenant" mapstructure:"tenant"`                   // policy tenant for all records
	BatchSize      int    `yaml:"batch_size" mapstructure:"batch_size"`           // 500
	WorkerCount    int    `yaml:"worker_count" mapstructure:"worker_count"`       // 4
	ValidateData   bool   `yaml:"validate_data" mapstructure:"validate_data"`     // true
	ProgressReport int    `yaml:"progress_report" mapstructure:"progress_report"` // 1000
	DryRun         bool   `yaml:"dry_run" mapstructure:"dry_run"`                 // false
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsValid   int64     `json:"records_valid"`
	RecordsInvalid int64     `json:"records_invalid"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSONL   FileFormat = "jsonl"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL
	default:
		return FormatCSV
	}
}
