package version

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/recordchain/internal/domain/record"
	"github.com/ehr/recordchain/internal/platform/auth"
)

// Viewer decides whether a doctor may read a record's history.
type Viewer interface {
	ViewableBy(ctx context.Context, userID, recordID uuid.UUID) error
}

type Handler struct {
	store  *Store
	viewer Viewer
}

func NewHandler(store *Store, viewer Viewer) *Handler {
	return &Handler{store: store, viewer: viewer}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/records/:id/versions", h.List, auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor))
	api.GET("/records/:id/versions/:version", h.Get, auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor))
	api.POST("/records/:id/rollback", h.Rollback, auth.RequireRole(auth.RoleAdmin))
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrVersionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrRollbackToCurrent):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrRollbackWhilePending), errors.Is(err, ErrVersionExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return record.HTTPError(err)
}

func recordID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// authorize lets admins through and checks the ledger for doctors.
func (h *Handler) authorize(c echo.Context, id uuid.UUID) error {
	ctx := c.Request().Context()
	if auth.HasRole(ctx, auth.RoleAdmin) {
		return nil
	}
	userID, err := auth.UserUUIDFromContext(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid subject")
	}
	if err := h.viewer.ViewableBy(ctx, userID, id); err != nil {
		return httpError(err)
	}
	return nil
}

func (h *Handler) List(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	if err := h.authorize(c, id); err != nil {
		return err
	}
	versions, err := h.store.List(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, versions)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	var n int
	if err := echo.PathParamsBinder(c).Int("version", &n).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid version")
	}
	if err := h.authorize(c, id); err != nil {
		return err
	}
	v, err := h.store.Get(c.Request().Context(), id, n)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

type rollbackRequest struct {
	Version int `json:"version"`
}

func (h *Handler) Rollback(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	var req rollbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Version < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "version is required")
	}
	actor, err := auth.UserUUIDFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid subject")
	}
	rec, err := h.store.Rollback(c.Request().Context(), id, req.Version, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}
