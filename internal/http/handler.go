package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gate-service/internal/domain/gate"
	"gate-service/internal/http/middleware"
	"gate-service/internal/report"
	"gate-service/internal/service"
)

const (
	exportPageSize = 100
	exportMaxRows  = 10000
)

// GateStatusProvider is implemented by the exit controller.
type GateStatusProvider interface {
	Status() service.GateStatus
}

type Handler struct {
	entries   *service.EntryService
	overrides *service.OverrideService
	gate      GateStatusProvider
	log       zerolog.Logger
}

// NewHandler builds the API handler. gateStatus may be nil when this process
// does not run the exit controller.
func NewHandler(
	entries *service.EntryService,
	overrides *service.OverrideService,
	gateStatus GateStatusProvider,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		entries:   entries,
		overrides: overrides,
		gate:      gateStatus,
		log:       log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.GET("/gate/status", h.gateStatus)
	}

	// Protected endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/gate/open", h.requestOverride(gate.OverrideOpenGate))
		protected.POST("/gate/mute", h.requestOverride(gate.OverrideMuteAlarm))
		protected.GET("/entries", h.listEntries)
		protected.GET("/entries/export", h.exportEntries)
		protected.GET("/entries/:id", h.getEntry)
	}
}

func (h *Handler) gateStatus(c *gin.Context) {
	if h.gate == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse("exit controller is not running in this process"))
		return
	}
	c.JSON(http.StatusOK, successResponse(h.gate.Status()))
}

func (h *Handler) requestOverride(o gate.Override) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.GetPrincipal(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
			return
		}
		if !principal.CanOverride() {
			h.log.Warn().
				Str("user_id", principal.UserID.String()).
				Str("role", string(principal.Role)).
				Str("override", string(o)).
				Msg("override denied")
			c.JSON(http.StatusForbidden, errorResponse("role may not override the gate"))
			return
		}

		inst, err := h.overrides.Request(c.Request.Context(), o, principal.UserID.String())
		if err != nil {
			h.handleError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"status":         "queued",
			"instruction_id": inst.ID,
			"override":       inst.Override,
			"gate":           inst.Gate,
			"requested_at":   inst.RequestedAt,
		})
	}
}

type entryQuery struct {
	plate, status, from, to *string
	limit, offset           int
}

func parseEntryQuery(c *gin.Context) entryQuery {
	optional := func(key string) *string {
		if v := strings.TrimSpace(c.Query(key)); v != "" {
			return &v
		}
		return nil
	}

	q := entryQuery{
		plate:  optional("plate"),
		status: optional("status"),
		from:   optional("from"),
		to:     optional("to"),
		limit:  50,
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			q.limit = parsed
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			q.offset = parsed
		}
	}
	return q
}

func (h *Handler) listEntries(c *gin.Context) {
	q := parseEntryQuery(c)

	entries, err := h.entries.ListEntries(c.Request.Context(), q.plate, q.status, q.from, q.to, q.limit, q.offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(entries))
}

func (h *Handler) getEntry(c *gin.Context) {
	entry, err := h.entries.GetEntry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(entry))
}

func (h *Handler) exportEntries(c *gin.Context) {
	q := parseEntryQuery(c)
	ctx := c.Request.Context()

	var all []service.EntryInfo
	for offset := 0; offset < exportMaxRows; offset += exportPageSize {
		page, err := h.entries.ListEntries(ctx, q.plate, q.status, q.from, q.to, exportPageSize, offset)
		if err != nil {
			h.handleError(c, err)
			return
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			break
		}
	}

	data, err := report.EntriesXLSX(all, time.Local)
	if err != nil {
		h.handleError(c, err)
		return
	}

	h.log.Info().Int("rows", len(all)).Msg("entries exported")

	filename := fmt.Sprintf("gate-entries-%s.xlsx", time.Now().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, report.ContentType, data)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
