package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tmorland/heritagetrack/internal/domain"
	"github.com/tmorland/heritagetrack/internal/export"
	"github.com/tmorland/heritagetrack/internal/ingest"
	"github.com/tmorland/heritagetrack/internal/middleware"
	"github.com/tmorland/heritagetrack/internal/query"
)

const maxUploadBytes = 32 << 20

// Server exposes the register over REST: the current view, version
// history, point-in-time queries, the change log, and snapshot upload.
type Server struct {
	queries  *query.Service
	importer *ingest.Service
	exporter *export.Service
	router   chi.Router
}

// New assembles the route table. apiKey guards the upload endpoint.
func New(queries *query.Service, importer *ingest.Service, exporter *export.Service, apiKey string) *Server {
	s := &Server{queries: queries, importer: importer, exporter: exporter}

	r := chi.NewRouter()
	r.Use(middleware.LoggingMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)

	r.Route("/assets", func(r chi.Router) {
		r.Get("/", s.handleListAssets)
		r.Get("/export", s.handleExportAssets)
		r.Get("/as-of/{date}", s.handleAssetsAsOf)
		r.Get("/{id}", s.handleGetAsset)
		r.Get("/{id}/history", s.handleAssetHistory)
		r.Get("/{id}/changes", s.handleAssetChanges)
		r.Get("/{id}/raw-history", s.handleAssetRawHistory)
	})

	r.Route("/changes", func(r chi.Router) {
		r.Get("/", s.handleListChanges)
		r.Get("/{from}/{to}", s.handleChangesBetween)
	})

	r.Route("/snapshots", func(r chi.Router) {
		r.Get("/", s.handleListSnapshots)
		r.Get("/{date}", s.handleRawSnapshot)
		r.With(middleware.APIKey(apiKey)).Post("/", s.handleUploadSnapshot)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	filter := assetFilterFromQuery(r)
	page, err := s.queries.Current(r.Context(), filter, pageFromQuery(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.queries.Asset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (s *Server) handleAssetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.queries.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleAssetChanges(w http.ResponseWriter, r *http.Request) {
	events, err := s.queries.AssetChanges(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleAssetRawHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.queries.RawHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleAssetsAsOf(w http.ResponseWriter, r *http.Request) {
	date, err := parseDateParam(r, "date")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	page, err := s.queries.AsOf(r.Context(), date, assetFilterFromQuery(r), pageFromQuery(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleListChanges(w http.ResponseWriter, r *http.Request) {
	filter := domain.ChangeFilter{
		UniqueID:   r.URL.Query().Get("unique_id"),
		ChangeType: r.URL.Query().Get("change_type"),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		date, err := parseDate(since)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter.Since = &date
	}
	if until := r.URL.Query().Get("until"); until != "" {
		date, err := parseDate(until)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter.Until = &date
	}

	page, err := s.queries.Changes(r.Context(), filter, pageFromQuery(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleChangesBetween(w http.ResponseWriter, r *http.Request) {
	from, err := parseDateParam(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseDateParam(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	events, err := s.queries.ChangesBetween(r.Context(), from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.queries.Snapshots(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handleRawSnapshot(w http.ResponseWriter, r *http.Request) {
	date, err := parseDateParam(r, "date")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	page, err := s.queries.RawSnapshot(r.Context(), date, pageFromQuery(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleExportAssets(w http.ResponseWriter, r *http.Request) {
	req := export.Request{
		Format: r.URL.Query().Get("format"),
		Filter: assetFilterFromQuery(r),
	}
	if req.Format == "" {
		req.Format = export.FormatCSV
	}
	if req.Format != export.FormatCSV && req.Format != export.FormatXLSX {
		http.Error(w, fmt.Sprintf("unsupported export format %q", req.Format), http.StatusBadRequest)
		return
	}
	if raw := r.URL.Query().Get("date"); raw != "" {
		date, err := parseDate(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req.AsOf = &date
	}

	fileName := fmt.Sprintf("heritage-assets-%s.%s", time.Now().Format("2006-01-02"), req.Format)
	if req.AsOf != nil {
		fileName = fmt.Sprintf("heritage-assets-%s.%s", req.AsOf.Format("2006-01-02"), req.Format)
	}

	w.Header().Set("Content-Type", export.ContentType(req.Format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))

	if err := s.exporter.Write(r.Context(), w, req); err != nil {
		// The response is already streaming; nothing to do but log.
		log.Printf("export failed: %v", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queries.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleUploadSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return
	}

	req := ingest.Request{
		FileName: header.Filename,
		Data:     bytes.NewReader(data),
	}
	if raw := r.FormValue("snapshot_date"); raw != "" {
		date, err := parseDate(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req.SnapshotDate = &date
	}

	result, err := s.importer.Import(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// writeError maps domain failures onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var invariant domain.InvariantViolationError
	var contract domain.DataContractViolationError

	switch {
	case domain.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrReconciliationInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ingest.ErrUnsupportedFormat):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &invariant), errors.As(err, &contract):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Printf("internal error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func assetFilterFromQuery(r *http.Request) domain.AssetFilter {
	q := r.URL.Query()
	return domain.AssetFilter{
		UniqueID: q.Get("unique_id"),
		OwnerID:  q.Get("owner_id"),
		Location: q.Get("location"),
		Category: q.Get("category"),
		Search:   q.Get("search"),
	}
}

func pageFromQuery(r *http.Request) domain.PageRequest {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	return domain.PageRequest{Page: page, PageSize: size}.Normalize()
}

func parseDateParam(r *http.Request, name string) (time.Time, error) {
	return parseDate(chi.URLParam(r, name))
}

func parseDate(raw string) (time.Time, error) {
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", raw)
	}
	return date, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
