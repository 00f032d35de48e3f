package auditlog

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/recordchain/internal/platform/auth"
	"github.com/ehr/recordchain/internal/platform/websocket"
	"github.com/ehr/recordchain/pkg/pagination"
)

type Handler struct {
	svc    *Service
	stream *websocket.Handler
}

func NewHandler(svc *Service, stream *websocket.Handler) *Handler {
	return &Handler{svc: svc, stream: stream}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("/admin/logs", auth.RequireRole(auth.RoleAdmin))
	admin.GET("", h.List)
	admin.GET("/stream", h.stream.Connect)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	entries, total, err := h.svc.List(c.Request().Context(), c.QueryParam("event"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	if entries == nil {
		entries = []*Entry{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, pg.Limit, pg.Offset))
}
