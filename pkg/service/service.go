package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"colf/pkg/colf_file"
	"colf/pkg/config"
	"colf/pkg/csvio"
	"colf/pkg/metadata"
	"colf/pkg/stats"
)

var errBadRequest = errors.New("bad request")

// Service serves the datasets of a catalog over HTTP. Every request opens
// its own file handle; only parsed headers are shared.
type Service struct {
	catalog    *metadata.Catalog
	dataDir    string
	compressor colf_file.Compressor
	headers    *headerCache
	metrics    *Metrics
	registry   *prometheus.Registry
	logger     log.Logger
}

func New(cfg *config.Config, catalog *metadata.Catalog, reg *prometheus.Registry, logger log.Logger) (*Service, error) {
	compressor, err := colf_file.CompressorByName(cfg.Codec.Compression)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics(reg)
	headers, err := newHeaderCache(cfg.HeaderCacheSize, metrics)
	if err != nil {
		return nil, err
	}

	return &Service{
		catalog:    catalog,
		dataDir:    cfg.Server.DataDir,
		compressor: compressor,
		headers:    headers,
		metrics:    metrics,
		registry:   reg,
		logger:     logger,
	}, nil
}

func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/datasets", s.listDatasets).Methods(http.MethodGet)
	r.HandleFunc("/datasets/{name}", s.getDataset).Methods(http.MethodGet)
	r.HandleFunc("/datasets/{name}", s.putDataset).Methods(http.MethodPut)
	r.HandleFunc("/datasets/{name}", s.deleteDataset).Methods(http.MethodDelete)
	r.HandleFunc("/datasets/{name}/columns", s.getColumns).Methods(http.MethodGet)
	r.HandleFunc("/datasets/{name}/stats", s.getStats).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Service) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		route := "unknown"
		if cur := mux.CurrentRoute(req); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.RequestDuration.
			WithLabelValues(req.Method, route, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
		level.Debug(s.logger).Log("msg", "request", "method", req.Method, "route", route, "status", rec.status, "duration", time.Since(start))
	})
}

func (s *Service) listDatasets(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.catalog.List())
}

type columnDescription struct {
	colf_file.ColumnSchema
	Offset           uint64 `json:"offset"`
	CompressedSize   uint64 `json:"compressed_size"`
	UncompressedSize uint64 `json:"uncompressed_size"`
	HasNulls         bool   `json:"has_nulls"`
}

type datasetDescription struct {
	metadata.DatasetInfo
	HeaderSize uint32              `json:"header_size"`
	Directory  []columnDescription `json:"directory"`
}

func (s *Service) getDataset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	h, err := s.catalog.Acquire(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer s.release(h)

	header, err := s.headers.get(h.Path)
	if err != nil {
		s.writeError(w, err)
		return
	}

	dir := make([]columnDescription, len(header.Entries))
	for i, e := range header.Entries {
		dir[i] = columnDescription{
			ColumnSchema:     e.Schema,
			Offset:           e.Meta.Offset,
			CompressedSize:   e.Meta.CompressedSize,
			UncompressedSize: e.Meta.UncompressedSize,
			HasNulls:         e.Meta.HasNulls,
		}
	}
	s.writeJSON(w, http.StatusOK, datasetDescription{
		DatasetInfo: h.DatasetInfo,
		HeaderSize:  header.HeaderSize,
		Directory:   dir,
	})
}

func (s *Service) putDataset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	defer r.Body.Close()

	table, err := csvio.ReadTable(r.Body)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}

	path := filepath.Join(s.dataDir, fmt.Sprintf("%s-%s.colf", name, uuid.NewString()))
	if err := table.Serialize(path, colf_file.WithCompressor(s.compressor)); err != nil {
		s.writeError(w, err)
		return
	}

	prev, prevErr := s.catalog.Get(name)
	info, err := s.catalog.Register(name, path, table.Schema(), true)
	switch {
	case errors.Is(err, metadata.ErrStaleFile):
		// the new dataset is live, only the old file lingers
		s.metrics.Errors.WithLabelValues("cleanup").Inc()
		level.Warn(s.logger).Log("msg", "failed to delete replaced dataset file", "name", name, "err", err)
	case err != nil:
		os.Remove(path)
		s.writeError(w, err)
		return
	}
	if prevErr == nil && prev.Path != path {
		s.headers.forget(prev.Path)
	}

	level.Info(s.logger).Log("msg", "dataset stored", "name", name, "rows", table.NumRows, "columns", len(table.Columns), "path", path)
	s.writeJSON(w, http.StatusCreated, info)
}

func (s *Service) deleteDataset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	info, err := s.catalog.Get(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.catalog.Remove(name); err != nil {
		s.writeError(w, err)
		return
	}
	s.headers.forget(info.Path)

	level.Info(s.logger).Log("msg", "dataset removed", "name", name)
	w.WriteHeader(http.StatusNoContent)
}

// requestedColumns returns nil when the names parameter is absent, meaning
// every column.
func requestedColumns(r *http.Request) []string {
	q := r.URL.Query()
	if !q.Has("names") {
		return nil
	}
	names := []string{}
	for _, n := range strings.Split(q.Get("names"), ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func (s *Service) readColumns(name string, names []string) (*colf_file.ColumnarTable, error) {
	h, err := s.catalog.Acquire(name)
	if err != nil {
		return nil, err
	}
	defer s.release(h)

	header, err := s.headers.get(h.Path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(h.Path)
	if err != nil {
		return nil, fmt.Errorf("can't open dataset file: %w", err)
	}
	defer f.Close()

	reader, err := colf_file.OpenWithHeader(f, header, colf_file.WithCompressor(s.compressor))
	if err != nil {
		return nil, err
	}
	table, err := reader.ReadColumnsInRequestOrder(names)
	if err != nil {
		return nil, err
	}

	s.metrics.ColumnsDecoded.Add(float64(len(table.Columns)))
	for _, col := range table.Columns {
		if e, ok := reader.Entry(col.GetName()); ok {
			s.metrics.CompressedBytesRead.Add(float64(e.Meta.CompressedSize))
		}
	}
	return table, nil
}

type columnsResponse struct {
	NumRows uint64           `json:"num_rows"`
	Columns map[string][]any `json:"columns"`
}

func (s *Service) getColumns(w http.ResponseWriter, r *http.Request) {
	table, err := s.readColumns(mux.Vars(r)["name"], requestedColumns(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := columnsResponse{
		NumRows: table.NumRows,
		Columns: make(map[string][]any, len(table.Columns)),
	}
	for _, col := range table.Columns {
		resp.Columns[col.GetName()] = columnValues(col)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Service) getStats(w http.ResponseWriter, r *http.Request) {
	table, err := s.readColumns(mux.Vars(r)["name"], requestedColumns(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats.Calculate(table))
}

// columnValues renders a column for JSON. NULL is null and non-finite
// floats become strings, which JSON numbers cannot hold.
func columnValues(col colf_file.AnyColumn) []any {
	out := make([]any, col.GetNumRows())
	for i := range out {
		v := col.ValueAt(i)
		if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			v = strconv.FormatFloat(f, 'g', -1, 64)
		}
		out[i] = v
	}
	return out
}

func (s *Service) release(h *metadata.Handle) {
	if err := h.Release(); err != nil {
		level.Warn(s.logger).Log("msg", "failed to release dataset", "name", h.Name, "err", err)
	}
}

func errorKind(err error) (int, string) {
	switch {
	case errors.Is(err, metadata.ErrDatasetNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, colf_file.ErrUnknownColumn):
		return http.StatusBadRequest, "unknown_column"
	case errors.Is(err, colf_file.ErrSchemaViolation), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, colf_file.ErrCorruptColumn),
		errors.Is(err, colf_file.ErrSchemaTypeMismatch),
		errors.Is(err, colf_file.ErrMalformedHeader),
		errors.Is(err, colf_file.ErrUnsupportedVersion),
		errors.Is(err, colf_file.ErrUnsupportedEncoding):
		return http.StatusInternalServerError, "corrupt"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	status, kind := errorKind(err)
	s.metrics.Errors.WithLabelValues(kind).Inc()

	lvl := level.Warn(s.logger)
	if status >= http.StatusInternalServerError {
		lvl = level.Error(s.logger)
	}
	lvl.Log("msg", "request failed", "kind", kind, "err", err)

	s.writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind})
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.metrics.Errors.WithLabelValues("encode").Inc()
		level.Error(s.logger).Log("msg", "failed to encode response", "err", err)
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
