package identity

import (
	"errors"
	"net/http"
	"time"

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
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/users", h.CreateUser)
	adminGroup.POST("/doctors", h.RegisterDoctor)
	adminGroup.GET("/doctors", h.ListDoctors)

	doctorGroup := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctorGroup.POST("/patients", h.RegisterPatient)
	doctorGroup.GET("/patients", h.ListPatients)
	doctorGroup.GET("/patients/:code", h.GetPatient)

	profile := api.Group("/profile", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	profile.GET("", h.GetProfile)
	profile.POST("/wallet", h.ConnectWallet)

	patientGroup := api.Group("/profile", auth.RequireRole(auth.RolePatient))
	patientGroup.POST("/guardian-wallet", h.LinkGuardianWallet)
	patientGroup.POST("/link-patients", h.LinkPatients)
	patientGroup.GET("/patients", h.MyPatients)
}

// httpError translates service and ledger errors into HTTP errors.
func httpError(err error) error {
	if status, msg, ok := ledger.HTTPStatus(err); ok {
		return echo.NewHTTPError(status, msg)
	}
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrOperatorWallet):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrWalletInUse), errors.Is(err, ErrCodeExhausted):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrWalletAlreadySet), errors.Is(err, ErrNotGuardian):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNoWallet):
		return echo.NewHTTPError(http.StatusPreconditionFailed, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func currentUser(c echo.Context) (uuid.UUID, error) {
	id, err := auth.UserUUIDFromContext(c.Request().Context())
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid subject")
	}
	return id, nil
}

// -- Accounts --

func (h *Handler) CreateUser(c echo.Context) error {
	var u User
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u.WalletAddress = nil
	if err := h.svc.CreateUser(c.Request().Context(), &u); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) RegisterDoctor(c echo.Context) error {
	var in RegisterDoctorInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doc, err := h.svc.RegisterDoctor(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, doc)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	docs, total, err := h.svc.ListDoctors(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(docs, total, pg.Limit, pg.Offset))
}

// -- Patients --

type patientRequest struct {
	Fullname                     string  `json:"fullname"`
	Email                        *string `json:"email"`
	Birthday                     string  `json:"birthday"`
	Gender                       string  `json:"gender"`
	Phone                        *string `json:"phone"`
	Address                      *string `json:"address"`
	IdentificationNumber         *string `json:"identification_number"`
	GuardianName                 *string `json:"guardian_name"`
	GuardianPhone                *string `json:"guardian_phone"`
	GuardianIdentificationNumber *string `json:"guardian_identification_number"`
	BloodType                    *string `json:"blood_type"`
	Allergies                    *string `json:"allergies"`
	ChronicDiseases              *string `json:"chronic_diseases"`
}

func (r patientRequest) toPatient() (*Patient, error) {
	birthday, err := time.Parse("2006-01-02", r.Birthday)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "birthday must be YYYY-MM-DD")
	}
	return &Patient{
		Fullname:                     r.Fullname,
		Email:                        r.Email,
		Birthday:                     birthday,
		Gender:                       r.Gender,
		Phone:                        r.Phone,
		Address:                      r.Address,
		IdentificationNumber:         r.IdentificationNumber,
		GuardianName:                 r.GuardianName,
		GuardianPhone:                r.GuardianPhone,
		GuardianIdentificationNumber: r.GuardianIdentificationNumber,
		BloodType:                    r.BloodType,
		Allergies:                    r.Allergies,
		ChronicDiseases:              r.ChronicDiseases,
	}, nil
}

func (h *Handler) RegisterPatient(c echo.Context) error {
	var req patientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := req.toPatient()
	if err != nil {
		return err
	}
	createdBy, err := currentUser(c)
	if err != nil {
		return err
	}
	if err := h.svc.RegisterPatient(c.Request().Context(), createdBy, p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.PatientByCode(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// -- Profile --

func (h *Handler) GetProfile(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	u, err := h.svc.UserByID(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

type walletRequest struct {
	WalletAddress string `json:"wallet_address"`
}

func (h *Handler) ConnectWallet(c echo.Context) error {
	var req walletRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	res, err := h.svc.ConnectWallet(c.Request().Context(), userID, req.WalletAddress)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type guardianRequest struct {
	PatientCode string `json:"patient_code"`
}

func (h *Handler) LinkGuardianWallet(c echo.Context) error {
	var req guardianRequest
	if err := c.Bind(&req); err != nil || req.PatientCode == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_code is required")
	}
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	p, err := h.svc.LinkGuardianWallet(c.Request().Context(), userID, req.PatientCode)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) LinkPatients(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	linked, err := h.svc.LinkPatients(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}
	if linked == nil {
		linked = []*Patient{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"linked": linked, "count": len(linked)})
}

func (h *Handler) MyPatients(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	patients, err := h.svc.PatientsByUser(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, patients)
}
