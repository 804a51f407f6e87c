package core

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Report is what a sink produced for a finished job.
type Report struct {
	FilePath string // empty when no failure file was written
	FileName string
	Message  string
}

// ReportSink turns a ReportDirective into an artifact and a user-facing message.
type ReportSink interface {
	Emit(ctx context.Context, jobID string, d ReportDirective, delimiter rune) (Report, error)
}

var _ ReportSink = (*FileReportSink)(nil)

// FileReportSink writes failure files under Dir/<jobID>/.
type FileReportSink struct {
	Dir string
}

// NewFileReportSink creates a sink rooted at dir.
func NewFileReportSink(dir string) *FileReportSink {
	return &FileReportSink{Dir: dir}
}

// Emit writes the failed rows, header first, using the source delimiter.
// When the file cannot be written the returned Report still carries a
// message describing what happened, alongside the error.
func (s *FileReportSink) Emit(ctx context.Context, jobID string, d ReportDirective, delimiter rune) (Report, error) {
	rep := Report{Message: d.Message}
	if !d.EmitFailureFile {
		return rep, nil
	}

	dir := filepath.Join(s.Dir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		rep.Message = fmt.Sprintf("%s Unable to create directory for the error file at %s.", d.Message, dir)
		return rep, fmt.Errorf("create report dir: %w", err)
	}

	path := filepath.Join(dir, d.FailureFileName)
	if err := writeFailedRows(path, d.FailedRows, delimiter); err != nil {
		rep.Message = fmt.Sprintf("%s Unable to write error file to %s.", d.Message, path)
		return rep, err
	}

	rep.FilePath = path
	rep.FileName = d.FailureFileName
	rep.Message = fmt.Sprintf("%s You may download a file of these rows: %s", d.Message, d.FailureFileName)
	return rep, nil
}

// Path returns the location of a job's failure file.
func (s *FileReportSink) Path(jobID, fileName string) string {
	return filepath.Join(s.Dir, filepath.Base(jobID), filepath.Base(fileName))
}

// PurgeBefore removes job report directories last modified before cutoff.
func (s *FileReportSink) PurgeBefore(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read report dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.Dir, e.Name())); err != nil {
			return removed, fmt.Errorf("remove report %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func writeFailedRows(path string, rows []FailedRow, delimiter rune) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}

	w := csv.NewWriter(f)
	if delimiter != 0 {
		w.Comma = delimiter
	}
	if err := w.Write(Columns); err != nil {
		f.Close()
		return fmt.Errorf("write report header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row.Data); err != nil {
			f.Close()
			return fmt.Errorf("write report row %d: %w", row.LineNumber, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush report: %w", err)
	}
	return f.Close()
}
