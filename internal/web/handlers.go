package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/geoimport/internal/core"
	"github.com/JonMunkholm/geoimport/internal/logging"
)

// multipartMemory is how much of a multipart form is buffered in memory;
// larger uploads spill to temporary files.
const multipartMemory = 32 << 20

// formOverhead is allowed on top of the maximum file size for the other
// form fields and multipart framing.
const formOverhead = 1 << 20

// handleImport runs one import from a multipart upload ("file") or a remote
// URL ("url").
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize+formOverhead)

	req, cleanup, err := parseImportRequest(r)
	defer cleanup()
	if err != nil {
		respondError(w, r, err)
		return
	}
	req.Debug = req.Debug || s.cfg.Import.Debug

	if err := s.deps.Limiter.Acquire(r.Context()); err != nil {
		if errors.Is(err, core.ErrTooManyImports) {
			w.Header().Set("Retry-After", strconv.Itoa(int(s.cfg.Import.MaxWaitTime/time.Second)+1))
		}
		respondError(w, r, err)
		return
	}
	defer s.deps.Limiter.Release()

	logger := logging.WithFields(r.Context(), "source", sourceDescription(req.Source))
	logger.Info("import started", "table_name", req.TableName, "debug", req.Debug)

	result, err := s.deps.Importer.Import(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logger.Info("import finished", "table", result.Name, "rows", result.RowsImported, "type", result.ImportType)
	writeJSON(w, http.StatusOK, result)
}

// parseImportRequest reads the import form. The returned cleanup removes
// any multipart temporary files and is always safe to call.
func parseImportRequest(r *http.Request) (core.ImportRequest, func(), error) {
	cleanup := func() {}
	var req core.ImportRequest

	err := r.ParseMultipartForm(multipartMemory)
	switch {
	case errors.Is(err, http.ErrNotMultipart):
		if err := r.ParseForm(); err != nil {
			return req, cleanup, formError(err)
		}
	case err != nil:
		return req, cleanup, formError(err)
	default:
		form := r.MultipartForm
		cleanup = func() { form.RemoveAll() }
	}

	req.TableName = strings.TrimSpace(r.FormValue("table_name"))
	if req.AppendToTable, err = formBool(r, "append_to_table"); err != nil {
		return req, cleanup, err
	}
	if req.Debug, err = formBool(r, "debug"); err != nil {
		return req, cleanup, err
	}

	url := strings.TrimSpace(r.FormValue("url"))
	var header string
	if r.MultipartForm != nil && len(r.MultipartForm.File["file"]) > 0 {
		file, fh, err := r.FormFile("file")
		if err != nil {
			return req, cleanup, formError(err)
		}
		prev := cleanup
		cleanup = func() {
			file.Close()
			prev()
		}
		header = fh.Filename
		req.Source = core.UploadSource(file, fh.Filename)
	}

	switch {
	case header != "" && url != "":
		return req, cleanup, badRequest("send either a file or a url, not both")
	case header == "" && url == "":
		return req, cleanup, badRequest("a file or a url is required")
	case url != "":
		req.Source = core.URLSource(url)
	}
	return req, cleanup, nil
}

// handleListTables lists existing tables, optionally filtered by prefix.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	store, err := s.deps.Connector.Connect(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer store.Close(context.WithoutCancel(r.Context()))

	names, err := store.TableNames(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": names})
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string             `json:"status"`
	Database string             `json:"database"`
	Imports  core.LimiterStatus `json:"imports"`
}

// handleHealth reports database reachability and import capacity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "ok", Imports: s.deps.Limiter.Status()}
	status := http.StatusOK

	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("health check failed", "error", err)
			resp.Status, resp.Database = "degraded", "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func formBool(r *http.Request, name string) (bool, error) {
	v := strings.TrimSpace(r.FormValue(name))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, badRequest(fmt.Sprintf("%s must be a boolean, got %q", name, v))
	}
	return b, nil
}

func formError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("%w: %w", core.ErrFileTooLarge, err)
	}
	return fmt.Errorf("%w: parse form: %w", core.ErrInvalidRequest, err)
}

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", core.ErrInvalidRequest, msg)
}

func sourceDescription(src core.Source) string {
	switch src.Kind {
	case core.SourceUpload:
		return "upload:" + src.Filename
	case core.SourceURL:
		return src.URL
	default:
		return src.Path
	}
}
