package pseudonym

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/UtrechtUniversity/anonymouus/internal/config"
)

// Flush writes the translation table to disk. An existing file is renamed
// to a timestamped backup first, so a run can never destroy the only copy
// of an earlier table. The extension picks the format: .parquet writes
// parquet, anything else CSV.
func (r *Registry) Flush(ctx context.Context, path string, delimiter rune) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.store.All(ctx)
	if err != nil {
		return fmt.Errorf("registry read failed: %w", err)
	}
	if len(records) == 0 {
		r.logger.Info("No pseudonym records to flush", zap.String("path", path))
		return nil
	}

	if _, err := os.Stat(path); err == nil {
		backup := backupPath(path, time.Now())
		if err := os.Rename(path, backup); err != nil {
			return fmt.Errorf("failed to back up %s: %w", path, err)
		}
		r.logger.Info("Existing table backed up", zap.String("backup", backup))
	}

	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		err = writeParquetTable(path, records)
	} else {
		err = writeCSVTable(path, delimiter, records)
	}
	if err != nil {
		return err
	}

	unique := make(map[string]struct{}, len(records))
	for _, rec := range records {
		unique[rec.Pseudonym] = struct{}{}
	}
	if len(unique) != len(records) {
		r.logger.Warn("Flushed table contains non-unique pseudonyms",
			zap.Int("records", len(records)),
			zap.Int("unique_pseudonyms", len(unique)),
		)
	}

	r.logger.Info("Translation table flushed",
		zap.String("path", path),
		zap.Int("records", len(records)),
	)
	return nil
}

// TablePath resolves the translation table location, forcing the
// extension to match the configured format so a parquet table never
// lands in a .csv file.
func TablePath(cfg config.RegistryConfig) string {
	path := cfg.TablePath
	if cfg.TableFormat == "parquet" && !strings.EqualFold(filepath.Ext(path), ".parquet") {
		path = strings.TrimSuffix(path, filepath.Ext(path)) + ".parquet"
	}
	return path
}

// backupPath appends a second-resolution timestamp to the file name and
// falls back to nanoseconds when that backup already exists.
func backupPath(path string, now time.Time) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	backup := fmt.Sprintf("%s--%s%s", base, now.Format("2006-01-02-150405"), ext)
	if _, err := os.Stat(backup); err == nil {
		backup = fmt.Sprintf("%s--%s%s", base, now.Format("2006-01-02-150405.000000000"), ext)
	}
	return backup
}

func writeCSVTable(path string, delimiter rune, records []Record) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	w := csv.NewWriter(file)
	if delimiter != 0 {
		w.Comma = delimiter
	}
	if err := w.Write([]string{"original", "pseudonym"}); err != nil {
		file.Close()
		return fmt.Errorf("failed to write table header: %w", err)
	}
	for _, rec := range records {
		if err := w.Write([]string{rec.Original, rec.Pseudonym}); err != nil {
			file.Close()
			return fmt.Errorf("failed to write table record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return fmt.Errorf("failed to flush table: %w", err)
	}
	return file.Close()
}

func writeParquetTable(path string, records []Record) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	writer := parquet.NewWriter(file)
	for i := range records {
		if err := writer.Write(&records[i]); err != nil {
			file.Close()
			return fmt.Errorf("failed to write table record: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		file.Close()
		return fmt.Errorf("failed to finalize parquet table: %w", err)
	}
	return file.Close()
}
