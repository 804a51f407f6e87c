package web

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/JonMunkholm/userimport/internal/core"
	"github.com/JonMunkholm/userimport/internal/logging"
	"github.com/go-chi/chi/v5"
)

// maxFormMemory is how much of a multipart upload is held in memory before
// spilling to disk.
const maxFormMemory = 32 << 20

// importAccepted is returned when a job has been started.
type importAccepted struct {
	JobID       string `json:"job_id"`
	StatusURL   string `json:"status_url"`
	ProgressURL string `json:"progress_url"`
	ResultURL   string `json:"result_url"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	s.startImport(w, r, "")
}

// handleGroupImport imports into a group after checking that the acting
// account may manage its membership.
func (s *Server) handleGroupImport(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	if err := s.authorizeGroupImport(r.Context(), groupID, ActingAccountFrom(r.Context())); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	s.startImport(w, r, groupID)
}

// startImport reads the multipart upload and hands it to the service. The
// upload is spooled to a temporary file owned by the job, since the request
// body is gone once the handler returns.
func (s *Server) startImport(w http.ResponseWriter, r *http.Request, groupID string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		s.respondError(w, r, fmt.Errorf("parse form: %w", err), status)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", core.ErrMissingFile, err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	var delimiter rune
	if v := r.FormValue("delimiter"); v != "" {
		delimiter, err = core.ParseDelimiter(v, 0)
		if err != nil {
			s.respondError(w, r, err, http.StatusBadRequest)
			return
		}
	}

	src, size, err := spoolUpload(file)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	jobID, err := s.service.StartImport(r.Context(), core.ImportRequest{
		FileName:  header.Filename,
		Source:    src,
		Size:      size,
		Delimiter: delimiter,
		GroupID:   groupID,
	})
	if err != nil {
		if errors.Is(err, core.ErrTooManyJobs) {
			w.Header().Set("Retry-After", "30")
		}
		s.respondError(w, r, err, statusFor(err))
		return
	}

	logging.ForJob(r.Context(), jobID, header.Filename, groupID).Info("import accepted",
		"bytes", size,
		"acting_account", ActingAccountFrom(r.Context()),
	)

	base := "/api/imports/" + jobID
	writeJSONStatus(w, http.StatusAccepted, importAccepted{
		JobID:       jobID,
		StatusURL:   base,
		ProgressURL: base + "/progress",
		ResultURL:   base + "/result",
	})
}

// handleProgressSnapshot returns the current progress without streaming.
func (s *Server) handleProgressSnapshot(w http.ResponseWriter, r *http.Request) {
	progress, err := s.service.GetProgress(chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, progress)
}

// handleProgress streams progress via Server-Sent Events.
// Supports resumption via the lastEventId query parameter for reconnection.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	// The event ID is the row count, so a reconnecting client can skip
	// updates it has already seen.
	lastEventIDStr := r.URL.Query().Get("lastEventId")
	if lastEventIDStr == "" {
		lastEventIDStr = r.Header.Get("Last-Event-ID")
	}
	lastEventID := -1
	if lastEventIDStr != "" {
		if n, err := strconv.Atoi(lastEventIDStr); err == nil {
			lastEventID = n
		}
	}

	progressCh, err := s.service.SubscribeProgress(jobID)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, errors.New("streaming not supported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			if progress.CurrentRow <= lastEventID && !progress.Phase.Terminal() {
				continue
			}

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", progress.CurrentRow, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleResult returns the final result, or 202 with the current progress
// while the job is running. With ?wait=true it blocks until the job ends.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	var (
		result *core.ImportResult
		err    error
	)
	if r.URL.Query().Get("wait") == "true" {
		result, err = s.service.GetResult(r.Context(), jobID)
	} else {
		result, err = s.service.PeekResult(jobID)
	}
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	if result == nil {
		progress, err := s.service.GetProgress(jobID)
		if err != nil {
			s.respondError(w, r, err, statusFor(err))
			return
		}
		writeJSONStatus(w, http.StatusAccepted, progress)
		return
	}
	writeJSON(w, result)
}

// handleCancel stops a running job at the next row boundary.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.service.CancelImport(jobID); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, map[string]string{"status": "cancelling", "job_id": jobID})
}

// handleFailedRows downloads a job's failure file.
func (s *Server) handleFailedRows(w http.ResponseWriter, r *http.Request) {
	path, name, err := s.service.ReportPath(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			err = fmt.Errorf("%w: report file removed", core.ErrJobNotFound)
		}
		s.respondError(w, r, err, statusFor(err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// handleHistory lists recently finished jobs.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.service.ListHistory(r.Context(), parseIntParam(r, "limit", 50))
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []core.JobSummary{}
	}
	writeJSON(w, jobs)
}

// handleTemplate downloads an empty import file with the expected header.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	fallback, _ := core.ParseDelimiter(s.cfg.Import.Delimiter, core.DelimiterComma)
	delimiter, err := core.ParseDelimiter(r.URL.Query().Get("delimiter"), fallback)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="user_import_template.csv"`)

	if err := writeTemplate(w, delimiter); err != nil {
		slog.Error("template write error", "error", err)
	}
}

func writeTemplate(w io.Writer, delimiter rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = delimiter
	if err := cw.Write(core.Columns); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// spoolUpload copies src into a temporary file that is removed on Close.
func spoolUpload(src io.Reader) (io.ReadCloser, int64, error) {
	f, err := os.CreateTemp("", "userimport-*.csv")
	if err != nil {
		return nil, 0, fmt.Errorf("spool upload: %w", err)
	}
	n, err := io.Copy(f, src)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, 0, fmt.Errorf("spool upload: %w", err)
	}
	return spooledFile{f}, n, nil
}

type spooledFile struct {
	*os.File
}

func (f spooledFile) Close() error {
	err := f.File.Close()
	os.Remove(f.File.Name())
	return err
}

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
