package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/kirillkom/scanpipe/internal/config"
	"github.com/kirillkom/scanpipe/internal/core/domain"
	"github.com/kirillkom/scanpipe/internal/core/ports"
	"github.com/kirillkom/scanpipe/internal/observability/metrics"
)

const (
	metricsService   = "scanpipe-api"
	multipartMemory  = 32 << 20
	backpressureWait = 250 * time.Millisecond
	maxJSONBodyBytes = 1 << 20
)

// Dependencies are the inbound ports served over HTTP. MCP is optional.
type Dependencies struct {
	Batches     ports.BatchSubmitter
	Clearer     ports.DocumentClearer
	Documents   ports.DocumentReader
	Progress    ports.ProgressReader
	Extractor   ports.EntityExtractor
	Recommender ports.Recommender
	MCP         http.Handler
	Metrics     *metrics.HTTPServerMetrics
	Logger      zerolog.Logger
}

type Router struct {
	deps    Dependencies
	apiSpec []byte

	maxUploadBytes int64
	rateLimitRPS   float64
	rateLimitBurst int
	maxInFlight    int
	corsOrigins    []string
}

func NewRouter(cfg config.Config, deps Dependencies) (*Router, error) {
	spec, err := loadAPISpec()
	if err != nil {
		return nil, err
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewHTTPServerMetrics(metricsService)
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 50 << 20
	}
	return &Router{
		deps:           deps,
		apiSpec:        spec,
		maxUploadBytes: maxUpload,
		rateLimitRPS:   cfg.RateLimitRPS,
		rateLimitBurst: cfg.RateLimitBurst,
		maxInFlight:    cfg.MaxInFlightRequests,
		corsOrigins:    cfg.CORSAllowedOrigins,
	}, nil
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware(rt.deps.Logger))
	r.Use(recoverMiddleware(rt.deps.Logger))
	r.Use(func(next http.Handler) http.Handler {
		return rt.deps.Metrics.Middleware(metricsService, next)
	})
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.allowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader, "Mcp-Session-Id"},
		ExposedHeaders: []string{requestIDHeader, "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/healthz", rt.healthz)
	r.Get("/openapi.json", rt.openAPI)
	r.Method(http.MethodGet, "/metrics", rt.deps.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return rateLimitMiddleware(next, rt.rateLimitRPS, rt.rateLimitBurst, rt.reject)
		})
		r.Use(func(next http.Handler) http.Handler {
			return backpressureMiddleware(next, rt.maxInFlight, backpressureWait, rt.reject)
		})

		r.Route("/v1", func(r chi.Router) {
			r.Post("/batches", rt.submitBatch)
			r.Get("/batches/current", rt.currentProgress)

			r.Get("/documents", rt.listDocuments)
			r.Delete("/documents", rt.clearDocuments)
			r.Get("/documents/export.xlsx", rt.exportDocuments)
			r.Get("/documents/{id}", rt.getDocumentByID)

			r.Post("/entities/extract", rt.extractEntities)
			r.Post("/recommendations", rt.recommend)
		})

		if rt.deps.MCP != nil {
			r.Handle("/mcp", rt.deps.MCP)
		}
	})

	return r
}

func (rt *Router) allowedOrigins() []string {
	if len(rt.corsOrigins) == 0 {
		return []string{"*"}
	}
	return rt.corsOrigins
}

func (rt *Router) reject(reason string) {
	rt.deps.Metrics.RecordRejected(metricsService, reason)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) openAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rt.apiSpec)
}

func (rt *Router) submitBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", rt.maxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	uploads := make([]domain.Upload, 0, len(headers))
	for _, fh := range headers {
		upload, err := readUpload(fh)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		uploads = append(uploads, upload)
	}

	batch, err := rt.deps.Batches.Submit(r.Context(), uploads)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, batch)
}

// readUpload types the upload by its content. The declared part header is
// ignored so a text file labelled image/png is still refused as a non-image.
func readUpload(fh *multipart.FileHeader) (domain.Upload, error) {
	file, err := fh.Open()
	if err != nil {
		return domain.Upload{}, fmt.Errorf("open upload %q: %w", fh.Filename, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return domain.Upload{}, fmt.Errorf("read upload %q: %w", fh.Filename, err)
	}

	return domain.Upload{
		Filename:    fh.Filename,
		ContentType: mimetype.Detect(data).String(),
		Data:        data,
	}, nil
}

func (rt *Router) currentProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.deps.Progress.Current())
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := rt.deps.Documents.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (rt *Router) getDocumentByID(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.deps.Documents.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) clearDocuments(w http.ResponseWriter, r *http.Request) {
	cleared, err := rt.deps.Clearer.Clear(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (rt *Router) exportDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := rt.deps.Documents.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="documents.xlsx"`)
	if err := writeWorkbook(w, docs); err != nil {
		rt.deps.Logger.Error().Err(err).Str("request_id", requestIDFromContext(r.Context())).Msg("export workbook failed")
	}
}

type extractRequest struct {
	Text string `json:"text"`
}

func (rt *Router) extractEntities(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": rt.deps.Extractor.Extract(req.Text)})
}

type recommendRequest struct {
	Claim      domain.Claim `json:"claim"`
	OCRText    string       `json:"ocr_text"`
	DocumentID string       `json:"document_id"`
}

func (rt *Router) recommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	text := req.OCRText
	if id := strings.TrimSpace(req.DocumentID); id != "" {
		doc, err := rt.deps.Documents.GetByID(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		text = doc.ExtractedText
	}

	result, err := rt.deps.Recommender.Recommend(r.Context(), req.Claim, text)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rt.deps.Metrics.RecordRecommendation(metricsService, result.Fallback)
	writeJSON(w, http.StatusOK, result)
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
