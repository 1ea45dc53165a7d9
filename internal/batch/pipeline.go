package batch

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/madhavanrx18/soc-challenge/internal/engine"
	"github.com/madhavanrx18/soc-challenge/internal/pii"
)

// Pipeline redacts dataset files record by record through the engine.
type Pipeline struct {
	engine *engine.Engine
	config *Config
	logger *zap.Logger
	stats  *ProcessingStats
	mu     sync.RWMutex
}

// NewPipeline creates a new batch pipeline
func NewPipeline(eng *engine.Engine, config *Config, logger *zap.Logger) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if config.ProgressReport <= 0 {
		config.ProgressReport = 1000
	}
	if config.Tenant == "" {
		config.Tenant = "default"
	}
	return &Pipeline{
		engine: eng,
		config: config,
		logger: logger,
		stats: &ProcessingStats{
			StartTime: time.Now(),
		},
	}
}

// ProcessFile redacts every record of inputPath into outputPath. The
// output format follows the output file's extension; each input record
// yields exactly one output record in input order.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string) (*ProcessingResult, error) {
	p.logger.Info("Starting batch pipeline",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
		zap.String("tenant", p.config.Tenant),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	start := time.Now()
	result := &ProcessingResult{Categories: make(map[pii.Category]int64)}

	reader, err := openReader(inputPath)
	if err != nil {
		return result, err
	}
	defer reader.Close()

	var writer recordWriter = discardWriter{}
	if !p.config.DryRun {
		writer, err = openWriter(outputPath)
		if err != nil {
			return result, err
		}
	}

	p.resetStats()

	for {
		select {
		case <-ctx.Done():
			writer.Close()
			return result, ctx.Err()
		default:
		}

		batch, err := p.readBatch(reader, result)
		if err != nil {
			writer.Close()
			return result, fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		outputs, err := p.processBatch(ctx, batch, result)
		if err != nil {
			writer.Close()
			return result, err
		}

		writeStart := time.Now()
		for _, out := range outputs {
			if err := writer.Write(out); err != nil {
				writer.Close()
				return result, fmt.Errorf("failed to write record %s: %w", out.RecordID, err)
			}
		}
		result.WriteTime += time.Since(writeStart)

		if result.TotalRecords/int64(p.config.ProgressReport) !=
			(result.TotalRecords-int64(len(batch)))/int64(p.config.ProgressReport) {
			p.reportProgress(result)
		}
	}

	if err := writer.Close(); err != nil {
		return result, fmt.Errorf("failed to finalize output: %w", err)
	}

	result.Duration = time.Since(start)

	p.logger.Info("Batch pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("pii_records", result.PIIRecords),
		zap.Int64("timed_out", result.TimedOut),
		zap.Int64("malformed", result.Malformed),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("scan_time", result.ScanTime),
		zap.Duration("write_time", result.WriteTime))

	return result, nil
}

// readBatch reads up to BatchSize valid records.
func (p *Pipeline) readBatch(reader recordReader, result *ProcessingResult) ([]InputRecord, error) {
	var batch []InputRecord
	for len(batch) < p.config.BatchSize {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			p.logger.Warn("Failed to read record", zap.Error(err))
			result.ProcessedFailed++
			result.TotalRecords++
			continue
		}
		if !p.validateRecord(&rec) {
			result.ProcessedFailed++
			result.TotalRecords++
			continue
		}
		batch = append(batch, rec)
	}
	return batch, nil
}

// processBatch redacts one batch across the worker pool, preserving
// record order in the returned slice.
func (p *Pipeline) processBatch(ctx context.Context, batch []InputRecord, result *ProcessingResult) ([]OutputRecord, error) {
	outputs := make([]OutputRecord, len(batch))
	results := make([]*engine.Result, len(batch))
	errs := make([]error, len(batch))

	jobs := make(chan int)
	var wg sync.WaitGroup

	scanStart := time.Now()
	for w := 0; w < p.config.WorkerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				rec := batch[i]
				out, res, err := p.engine.Process(ctx, p.config.Tenant, []byte(rec.DataJSON), pii.ContentTypeJSON)
				if err != nil {
					errs[i] = err
					continue
				}
				results[i] = res
				outputs[i] = OutputRecord{
					RecordID: rec.RecordID,
					DataJSON: string(out),
					IsPII:    res.SpanCount() > 0,
				}
			}
		}()
	}

	for i := range batch {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	result.ScanTime += time.Since(scanStart)

	for i := range batch {
		result.TotalRecords++
		if errs[i] != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn("Record processing failed",
				zap.String("record_id", batch[i].RecordID),
				zap.Error(errs[i]))
			result.ProcessedFailed++
			result.Errors = appendBounded(result.Errors, errs[i].Error())
			// Failed records still emit a row, fully masked
			outputs[i] = OutputRecord{
				RecordID: batch[i].RecordID,
				DataJSON: pii.MaskTag(pii.CategoryUnknown),
				IsPII:    true,
			}
			continue
		}
		res := results[i]
		result.ProcessedOK++
		if outputs[i].IsPII {
			result.PIIRecords++
		}
		if res.TimedOut {
			result.TimedOut++
		}
		if res.Malformed {
			result.Malformed++
		}
		for c, n := range res.Categories {
			result.Categories[c] += int64(n)
		}
	}

	return outputs, nil
}

// validateRecord validates a data record
func (p *Pipeline) validateRecord(rec *InputRecord) bool {
	if !p.config.ValidateData {
		return true
	}
	if strings.TrimSpace(rec.RecordID) == "" {
		p.logger.Debug("Invalid record: empty record_id")
		return false
	}
	return true
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	elapsed := time.Since(p.stats.StartTime)
	rate := float64(result.TotalRecords) / elapsed.Seconds()

	fields := []zap.Field{
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Int64("pii_records", result.PIIRecords),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed),
	}
	if result.TotalRecords > 0 {
		fields = append(fields, zap.Duration("avg_scan_time", result.ScanTime/time.Duration(result.TotalRecords)))
	}
	p.logger.Info("Processing progress", fields...)
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	return &stats
}

// appendBounded caps the retained error list so a pathological input
// file cannot grow it without bound.
func appendBounded(errs []string, msg string) []string {
	if len(errs) >= 20 {
		return errs
	}
	return append(errs, msg)
}
