package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"consumerdocs/application/docs"
	"consumerdocs/pkg/common"
	appErrors "consumerdocs/pkg/errors"
	"consumerdocs/pkg/utils"
)

// DocsHandler serves stored consumer records and generated documentation
type DocsHandler struct {
	service      *docs.Service
	errorHandler *appErrors.ErrorHandler
	logger       *zap.Logger
}

// NewDocsHandler creates a docs handler
func NewDocsHandler(service *docs.Service, errorHandler *appErrors.ErrorHandler, logger *zap.Logger) *DocsHandler {
	return &DocsHandler{
		service:      service,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// GetRecords handles GET /services/{service}/records
func (h *DocsHandler) GetRecords(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")

	records, err := h.service.KnownRecords(r.Context(), service)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, recordView{
			Caller:         rec.Caller,
			Method:         rec.Method,
			PathTemplate:   rec.PathTemplate,
			CallCount:      rec.CallCount,
			FirstSeen:      utils.FormatTimestamp(rec.FirstSeen),
			LastSeen:       utils.FormatTimestamp(rec.LastSeen),
			RequestFields:  rec.RequestFields.Sorted(),
			RequestHeaders: rec.RequestHeaders.Sorted(),
			QueryParams:    rec.QueryParams.Sorted(),
			ResponseCodes:  rec.ResponseCodes.Sorted(),
		})
	}
	common.RespondWithMeta(w, http.StatusOK, views, h.meta(r, service, len(views)))
}

// GetEndpoints handles GET /services/{service}/endpoints
func (h *DocsHandler) GetEndpoints(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")

	endpoints, err := h.service.KnownEndpoints(r.Context(), service)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	common.RespondWithMeta(w, http.StatusOK, endpoints, h.meta(r, service, len(endpoints)))
}

// GetDocs handles GET /services/{service}/docs?format=markdown|html
func (h *DocsHandler) GetDocs(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	format := r.URL.Query().Get("format")

	if subject, ok := common.GetSubject(r.Context()); ok {
		h.logger.Debug("Rendering documentation",
			zap.String("service", service),
			zap.String("format", format),
			zap.String("subject", subject),
		)
	}

	switch format {
	case "", "markdown", "md":
		md, err := h.service.Markdown(r.Context(), service)
		if err != nil {
			h.errorHandler.Handle(w, r, err)
			return
		}
		common.RespondText(w, http.StatusOK, "text/markdown; charset=utf-8", md)
	case "html":
		html, err := h.service.HTML(r.Context(), service)
		if err != nil {
			h.errorHandler.Handle(w, r, err)
			return
		}
		common.RespondText(w, http.StatusOK, "text/html; charset=utf-8", html)
	default:
		h.errorHandler.Handle(w, r, appErrors.NewValidationError("format must be markdown or html").
			WithDetails(map[string]interface{}{"format": format}))
	}
}

func (h *DocsHandler) meta(r *http.Request, service string, count int) *common.MetaInfo {
	return &common.MetaInfo{
		RequestID: middleware.GetReqID(r.Context()),
		Timestamp: utils.FormatTimestamp(time.Now()),
		Service:   service,
		Count:     count,
	}
}

type recordView struct {
	Caller         string   `json:"caller"`
	Method         string   `json:"method"`
	PathTemplate   string   `json:"path_template"`
	CallCount      int64    `json:"call_count"`
	FirstSeen      string   `json:"first_seen"`
	LastSeen       string   `json:"last_seen"`
	RequestFields  []string `json:"request_fields"`
	RequestHeaders []string `json:"request_headers"`
	QueryParams    []string `json:"query_params"`
	ResponseCodes  []string `json:"response_codes"`
}
