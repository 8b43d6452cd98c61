package handlers

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/Brownie44l1/leaf-doctor/internal/diagnosis"
	"github.com/Brownie44l1/leaf-doctor/internal/explainer"
	"github.com/Brownie44l1/leaf-doctor/internal/upload"
)

var (
	//go:embed tmpl/*.html
	tmplFS embed.FS

	indexTmpl = template.Must(template.New("index.html").Funcs(template.FuncMap{
		"humanize": explainer.HumanizeLabel,
	}).ParseFS(tmplFS, "tmpl/index.html"))
)

// formField is the multipart field carrying the leaf photo.
const formField = "image"

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Handler.
type Options struct {
	AllowedExtensions []string
	MaxUploadBytes    int64
	Classes           int    // number of classifier labels, reported by /health
	Explainer         Pinger // optional, checked by /health
	Logger            *slog.Logger
}

type Handler struct {
	service *diagnosis.Service
	store   *upload.Store
	opts    Options
	logger  *slog.Logger
}

func NewHandler(service *diagnosis.Service, store *upload.Store, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: service,
		store:   store,
		opts:    opts,
		logger:  logger,
	}
}

// Routes returns the mux serving the page, uploaded images and /health.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", h.Index)
	mux.HandleFunc("/health", enableCORS(h.Health))
	mux.Handle("GET "+h.store.URLPrefix()+"/",
		http.StripPrefix(h.store.URLPrefix(), http.FileServer(http.Dir(h.store.Dir()))))
	return mux
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":  "healthy",
		"classes": h.opts.Classes,
	}
	if h.opts.Explainer != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.opts.Explainer.Ping(ctx); err != nil {
			status["explainer"] = "unreachable"
		} else {
			status["explainer"] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// Index renders the upload form on GET and the diagnosis on POST. Every
// outcome, including failures, is rendered inline with status 200.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.render(w, diagnosis.Response{})
	case http.MethodPost:
		h.render(w, h.diagnose(w, r))
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) diagnose(w http.ResponseWriter, r *http.Request) diagnosis.Response {
	header, present := h.formFile(w, r)

	filename := ""
	if header != nil {
		filename = header.Filename
	}
	if err := upload.Validate(present, filename, h.opts.AllowedExtensions); err != nil {
		h.logger.Info("upload rejected", "filename", filename, "reason", err)
		return diagnosis.Failed(err.Error())
	}

	h.logger.Info("received file", "filename", header.Filename, "size", header.Size)

	file, err := header.Open()
	if err != nil {
		h.logger.Error("opening upload", "err", err)
		return diagnosis.Failed(diagnosis.ProcessingFailed)
	}
	defer file.Close()

	img, err := h.store.Save(header.Filename, file)
	if err != nil {
		h.logger.Error("saving upload", "err", err)
		return diagnosis.Failed(diagnosis.ProcessingFailed)
	}

	return h.service.Diagnose(r.Context(), img)
}

// formFile finds the upload field. present is true when the field exists,
// even without a selected file; browsers send an empty filename in that case
// and the multipart reader files such parts under Value rather than File.
func (h *Handler) formFile(w http.ResponseWriter, r *http.Request) (header *multipart.FileHeader, present bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("upload too large", "limit", tooLarge.Limit)
		} else {
			h.logger.Info("failed to parse form", "err", err)
		}
		return nil, false
	}

	if files := r.MultipartForm.File[formField]; len(files) > 0 {
		return files[0], true
	}
	if _, ok := r.MultipartForm.Value[formField]; ok {
		return nil, true
	}
	return nil, false
}

func (h *Handler) render(w http.ResponseWriter, resp diagnosis.Response) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, resp); err != nil {
		h.logger.Error("rendering page", "err", err)
	}
}
