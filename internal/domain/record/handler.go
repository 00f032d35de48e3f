package record

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/recordchain/internal/platform/auth"
	"github.com/ehr/recordchain/internal/platform/ledger"
	"github.com/ehr/recordchain/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctorGroup := api.Group("/records", auth.RequireRole(auth.RoleDoctor))
	doctorGroup.POST("", h.Create)
	doctorGroup.GET("", h.ListForDoctor)
	doctorGroup.GET("/:id", h.Get)
	doctorGroup.PUT("/:id", h.Edit)
	doctorGroup.POST("/:id/status", h.UpdateStatus)
	doctorGroup.POST("/:id/anchor", h.Anchor)

	api.GET("/records/:id/integrity", h.VerifyIntegrity, auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor))

	patientGroup := api.Group("/my", auth.RequireRole(auth.RolePatient))
	patientGroup.GET("/records", h.ListForPatient)
}

// HTTPError translates record, ledger and lookup errors into HTTP errors.
func HTTPError(err error) error {
	if status, msg, ok := ledger.HTTPStatus(err); ok {
		return echo.NewHTTPError(status, msg)
	}
	var pending *PendingError
	switch {
	case errors.As(err, &pending):
		return echo.NewHTTPError(http.StatusConflict, map[string]string{
			"message":   pending.Error(),
			"operation": pending.Operation,
		})
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAccessDenied), errors.Is(err, ErrNoDoctorProfile):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrCodeExhausted), errors.Is(err, ErrVersionConflict), errors.Is(err, ErrNotAnchored):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNoWallet):
		return echo.NewHTTPError(http.StatusPreconditionFailed, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func recordID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) actor(c echo.Context) (Actor, error) {
	userID, err := auth.UserUUIDFromContext(c.Request().Context())
	if err != nil {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid subject")
	}
	a, err := h.svc.ActorFor(c.Request().Context(), userID)
	if err != nil {
		return Actor{}, HTTPError(err)
	}
	return a, nil
}

// createResponse tells the client which ledger write to sign next.
type createResponse struct {
	Record    *MedicalRecord `json:"record"`
	Operation string         `json:"pending_operation"`
}

func (h *Handler) Create(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.actor(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Create(c.Request().Context(), a, in)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, createResponse{Record: rec, Operation: h.svc.PendingOperation(c.Request().Context(), rec)})
}

func (h *Handler) Edit(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.actor(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Edit(c.Request().Context(), a, id, in)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, createResponse{Record: rec, Operation: h.svc.PendingOperation(c.Request().Context(), rec)})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	a, err := h.actor(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.GetForDoctor(c.Request().Context(), a, id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListForDoctor(c echo.Context) error {
	a, err := h.actor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	recs, total, err := h.svc.ListForDoctor(c.Request().Context(), a, c.QueryParam("patient_code"), pg.Limit, pg.Offset)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(recs, total, pg.Limit, pg.Offset))
}

// UpdateStatus is called by the client after its ledger transaction has
// committed.
func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.MarkVerified(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Anchor(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	a, err := h.actor(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Anchor(c.Request().Context(), a, id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

// VerifyIntegrity is open to admins; doctors need ledger access to the
// record.
func (h *Handler) VerifyIntegrity(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if !auth.HasRole(ctx, auth.RoleAdmin) {
		userID, err := auth.UserUUIDFromContext(ctx)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid subject")
		}
		if err := h.svc.ViewableBy(ctx, userID, id); err != nil {
			return HTTPError(err)
		}
	}
	report, err := h.svc.VerifyIntegrity(ctx, id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) ListForPatient(c echo.Context) error {
	userID, err := auth.UserUUIDFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid subject")
	}
	pg := pagination.FromContext(c)
	recs, total, err := h.svc.ListForAccount(c.Request().Context(), userID, c.QueryParam("patient_code"), pg.Limit, pg.Offset)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(recs, total, pg.Limit, pg.Offset))
}
