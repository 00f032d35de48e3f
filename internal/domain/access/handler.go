package access

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/recordchain/internal/domain/identity"
	"github.com/ehr/recordchain/internal/domain/record"
	"github.com/ehr/recordchain/internal/platform/auth"
	"github.com/ehr/recordchain/internal/platform/ledger"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	patientGroup := api.Group("/access", auth.RequireRole(auth.RolePatient))
	patientGroup.POST("/grant", h.Grant)
	patientGroup.POST("/revoke", h.Revoke)

	api.GET("/records/:id/holders", h.Holders, auth.RequireRole(auth.RolePatient))
	api.GET("/access/doctors/:code", h.Hint, auth.RequireRole(auth.RoleAdmin))
}

func httpError(err error) error {
	if status, msg, ok := ledger.HTTPStatus(err); ok {
		return echo.NewHTTPError(status, msg)
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnknownDoctor):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotOwner):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrGrantNotOnLedger):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrNoWallet):
		return echo.NewHTTPError(http.StatusPreconditionFailed, err.Error())
	}
	return record.HTTPError(err)
}

func currentUser(c echo.Context) (uuid.UUID, error) {
	id, err := auth.UserUUIDFromContext(c.Request().Context())
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid subject")
	}
	return id, nil
}

func (h *Handler) Grant(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	g, err := h.svc.Grant(c.Request().Context(), userID, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) Revoke(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Revoke(c.Request().Context(), userID, req); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Holders(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	holders, err := h.svc.Holders(c.Request().Context(), userID, id)
	if err != nil {
		return httpError(err)
	}
	if holders == nil {
		holders = []Holder{}
	}
	return c.JSON(http.StatusOK, holders)
}

func (h *Handler) Hint(c echo.Context) error {
	grants, err := h.svc.Hint(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	if grants == nil {
		grants = []Grant{}
	}
	return c.JSON(http.StatusOK, grants)
}
