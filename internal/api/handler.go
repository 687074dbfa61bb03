package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/elum-utils/gatekeeper/core"
	"github.com/elum-utils/gatekeeper/models"
)

const (
	maxJSONBody       = 1 << 20
	multipartOverhead = 1 << 20
	defaultMaxImage   = 10 << 20
)

// Pipeline is the moderation surface the HTTP layer depends on.
type Pipeline interface {
	Moderate(ctx context.Context, req models.Request) (models.Result, error)
	Scan(ctx context.Context, img models.Image) (core.ScanResult, error)
}

// Options configure Handler.
type Options struct {
	MaxImageBytes int64
	// OCRLimit guards the OCR route, nil disables it.
	OCRLimit Middleware
	Logger   *zap.Logger
}

// Handler implements all HTTP endpoints.
type Handler struct {
	pipeline      Pipeline
	maxImageBytes int64
	ocrLimit      Middleware
	logger        *zap.Logger
}

// New creates a Handler.
func New(p Pipeline, opt Options) *Handler {
	h := &Handler{
		pipeline:      p,
		maxImageBytes: defaultMaxImage,
		ocrLimit:      opt.OCRLimit,
		logger:        opt.Logger,
	}
	if opt.MaxImageBytes > 0 {
		h.maxImageBytes = opt.MaxImageBytes
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

// Register mounts routes on the given mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("POST /moderate", h.moderate)
	mux.HandleFunc("POST /moderate/content", h.moderateContent)

	var scan http.Handler = http.HandlerFunc(h.scan)
	if h.ocrLimit != nil {
		scan = h.ocrLimit(scan)
	}
	mux.Handle("POST /ocr/scan", scan)
}

// ---------- endpoints ----------

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type moderateRequest struct {
	Text    *string `json:"text"`
	Context string  `json:"context"`
}

// moderate answers with the verdict, every dimension present.
func (h *Handler) moderate(w http.ResponseWriter, r *http.Request) {
	res, ok := h.runModeration(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res.Verdict.Complete())
}

// moderateContent answers with the allow/block decision.
func (h *Handler) moderateContent(w http.ResponseWriter, r *http.Request) {
	res, ok := h.runModeration(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res.Decision)
}

func (h *Handler) runModeration(w http.ResponseWriter, r *http.Request) (models.Result, bool) {
	var req moderateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return models.Result{}, false
	}
	if req.Text == nil || strings.TrimSpace(*req.Text) == "" {
		writeErr(w, http.StatusBadRequest, "text is required", "")
		return models.Result{}, false
	}

	res, err := h.pipeline.Moderate(r.Context(), models.Request{Text: *req.Text, Context: req.Context})
	if err != nil {
		h.writeFailure(w, r, err, "moderation failed")
		return models.Result{}, false
	}
	return res, true
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxImageBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeErr(w, http.StatusBadRequest, "image too large", err.Error())
			return
		}
		writeErr(w, http.StatusBadRequest, "No image file provided", err.Error())
		return
	}
	// Parts spilled to disk by ParseMultipartForm must not outlive the request.
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("image")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "No image file provided", "")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxImageBytes+1))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "failed to read image", err.Error())
		return
	}
	mime := header.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}

	res, err := h.pipeline.Scan(r.Context(), models.Image{Data: data, MIMEType: mime, Name: header.Filename})
	if err != nil {
		h.writeFailure(w, r, err, "Failed to process image")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// writeFailure maps the error taxonomy to a status: validation is the
// caller's fault, everything else is ours.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		writeErr(w, http.StatusBadRequest, verr.Reason, verr.Field)
		return
	}
	h.logger.Error(msg,
		zap.Error(err),
		zap.String("path", r.URL.Path),
		zap.String("request_id", RequestIDFromContext(r.Context())),
	)
	writeErr(w, http.StatusInternalServerError, msg, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg, details string) {
	body := map[string]string{"error": msg}
	if details != "" {
		body["details"] = details
	}
	writeJSON(w, status, body)
}
