package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	appErr "github.com/campuskit/broadcast/internal/errors"
	"github.com/campuskit/broadcast/internal/middleware"
	"github.com/campuskit/broadcast/internal/model"
	"github.com/campuskit/broadcast/internal/service"
	"github.com/campuskit/broadcast/internal/tracing"
)

type BroadcastHandler struct {
	svc    service.BroadcastService
	logger *slog.Logger
	tracer trace.Tracer
}

func NewBroadcastHandler(svc service.BroadcastService, logger *slog.Logger) *BroadcastHandler {
	return &BroadcastHandler{
		svc:    svc,
		logger: logger.With("layer", "handler", "component", "broadcastHandler"),
		tracer: tracing.Tracer("broadcast-handler"),
	}
}

func (h *BroadcastHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Send", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	admin, ok := middleware.AdminFromContext(ctx)
	if !ok {
		h.logger.Error("Send reached without authenticated admin")
		writeError(w, appErr.NewForbidden("admin access required"))
		return
	}

	var req model.SendBroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid request body for Send", slog.Any("error", err))
		writeError(w, appErr.NewValidation("invalid request body"))
		return
	}

	requestID := uuid.New().String()
	resp, err := h.svc.Send(ctx, admin, requestID, &req)
	if err != nil {
		tracing.RecordError(span, err)
		h.logger.Warn("Send failed",
			slog.String("request_id", requestID),
			slog.Any("error", err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BroadcastHandler) Flush(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Flush", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	limit, force := flushParams(r)
	report, err := h.svc.Flush(ctx, limit, force, "api")
	if err != nil {
		tracing.RecordError(span, err)
		h.logger.Error("Flush failed", slog.Any("error", err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *BroadcastHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "History", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	result, err := h.svc.History(ctx, page, limit)
	if err != nil {
		tracing.RecordError(span, err)
		h.logger.Error("History failed", slog.Any("error", err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *BroadcastHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Get", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, appErr.NewValidation("invalid broadcast id"))
		return
	}

	summary, err := h.svc.Get(ctx, id)
	if err != nil {
		if appErr.IsNotFound(err) {
			h.logger.Warn("Broadcast not found", slog.Int64("id", id))
		} else {
			tracing.RecordError(span, err)
			h.logger.Error("Get failed", slog.Int64("id", id), slog.Any("error", err))
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// flushParams reads limit and force from the query string, overridden by an
// optional JSON body so both curl-style and programmatic callers work.
func flushParams(r *http.Request) (limit int, force bool) {
	q := r.URL.Query()
	limit, _ = strconv.Atoi(q.Get("limit"))
	force, _ = strconv.ParseBool(q.Get("force"))

	var body struct {
		Limit *int  `json:"limit"`
		Force *bool `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		if body.Limit != nil {
			limit = *body.Limit
		}
		if body.Force != nil {
			force = *body.Force
		}
	}
	return limit, force
}
