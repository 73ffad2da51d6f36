package cases

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/heydoc/consult/internal/platform/auth"
	"github.com/heydoc/consult/internal/platform/payments"
	"github.com/heydoc/consult/pkg/pagination"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/cases", h.Create, auth.RequireRole(auth.RolePatient))
	api.GET("/cases", h.ListMine)
	api.GET("/cases/queue", h.ListQueue, auth.RequireRole(auth.RoleDoctor))
	api.GET("/cases/offers", h.ListOffers, auth.RequireRole(auth.RoleDoctor))
	api.GET("/cases/:id", h.Get)
	api.POST("/cases/:id/accept", h.Accept, auth.RequireRole(auth.RoleDoctor))
	api.POST("/cases/:id/decline", h.Decline, auth.RequireRole(auth.RoleDoctor))
	api.POST("/cases/:id/complete", h.Complete, auth.RequireRole(auth.RoleDoctor))
	api.POST("/cases/:id/cancel", h.Cancel)
}

// httpError maps engine errors onto status codes. Contention and state
// conflicts are 409, eligibility problems 422, payment declines 402.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "case not found")
	case errors.Is(err, ErrNotAuthorized):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrCaseTaken):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrCannotCancel):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidDoctor), errors.Is(err, ErrInvalidIntake):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, payments.ErrDeclined):
		return echo.NewHTTPError(http.StatusPaymentRequired, "could not process payment, no charge made")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func callerID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid caller identity")
	}
	return id, nil
}

type createRequest struct {
	Tier              string     `json:"tier"`
	ChiefComplaint    string     `json:"chiefComplaint"`
	Symptoms          []string   `json:"symptoms"`
	Attachments       []string   `json:"attachments"`
	RequestedDoctorID *uuid.UUID `json:"requestedDoctorId,omitempty"`
}

func (h *Handler) Create(c echo.Context) error {
	patientID, err := callerID(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	intake := Intake{
		ChiefComplaint: req.ChiefComplaint,
		Symptoms:       req.Symptoms,
		Attachments:    req.Attachments,
	}
	cs, err := h.engine.Create(c.Request().Context(), patientID, req.Tier, intake, req.RequestedDoctorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, cs)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cs, err := h.engine.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}

	// Patients see their own cases, doctors those offered to or held by them.
	ctx := c.Request().Context()
	caller := auth.UserIDFromContext(ctx)
	if !auth.IsAdmin(auth.RoleFromContext(ctx)) &&
		caller != cs.PatientID.String() &&
		(cs.AssignedDoctorID == nil || caller != cs.AssignedDoctorID.String()) &&
		(cs.RequestedDoctorID == nil || caller != cs.RequestedDoctorID.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "not authorized for this case")
	}
	return c.JSON(http.StatusOK, cs)
}

// ListMine returns the caller's cases: a patient's requests or a doctor's
// assignments.
func (h *Handler) ListMine(c echo.Context) error {
	id, err := callerID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	var (
		cs    []*ConsultationCase
		total int
	)
	if auth.RoleFromContext(ctx) == auth.RoleDoctor {
		cs, total, err = h.engine.ListByDoctor(ctx, id, c.QueryParam("status"), pg.Limit, pg.Offset)
	} else {
		cs, total, err = h.engine.ListByPatient(ctx, id, pg.Limit, pg.Offset)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(cs, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListQueue(c echo.Context) error {
	pg := pagination.FromContext(c)
	cs, total, err := h.engine.ListPendingStandard(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(cs, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListOffers(c echo.Context) error {
	doctorID, err := callerID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	cs, total, err := h.engine.ListPendingPriority(c.Request().Context(), doctorID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(cs, total, pg.Limit, pg.Offset))
}

type versionRequest struct {
	Version int `json:"version"`
}

func (h *Handler) Accept(c echo.Context) error {
	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	doctorID, err := callerID(c)
	if err != nil {
		return err
	}
	var req versionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cs, err := h.engine.Accept(c.Request().Context(), caseID, doctorID, req.Version)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) Decline(c echo.Context) error {
	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	doctorID, err := callerID(c)
	if err != nil {
		return err
	}
	var req versionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cs, err := h.engine.Decline(c.Request().Context(), caseID, doctorID, req.Version)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cs)
}

type completeRequest struct {
	Version int  `json:"version"`
	Rating  *int `json:"rating,omitempty"`
}

func (h *Handler) Complete(c echo.Context) error {
	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	doctorID, err := callerID(c)
	if err != nil {
		return err
	}
	var req completeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cs, err := h.engine.Complete(c.Request().Context(), caseID, doctorID, req.Version, req.Rating)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cs)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actorID, err := callerID(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	isAdmin := auth.IsAdmin(auth.RoleFromContext(c.Request().Context()))
	cs, err := h.engine.Cancel(c.Request().Context(), caseID, actorID, isAdmin, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cs)
}
