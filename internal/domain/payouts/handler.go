package payouts

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/heydoc/consult/internal/domain/doctors"
	"github.com/heydoc/consult/internal/platform/auth"
	"github.com/heydoc/consult/pkg/pagination"
)

type Handler struct {
	coordinator *Coordinator
}

func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/payouts", h.List, auth.RequireRole(auth.RoleDoctor))
	api.POST("/payouts/instant", h.Instant, auth.RequireRole(auth.RoleDoctor))
}

func (h *Handler) List(c echo.Context) error {
	doctorID, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid caller identity")
	}
	pg := pagination.FromContext(c)
	ps, total, err := h.coordinator.History(c.Request().Context(), doctorID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(ps, total, pg.Limit, pg.Offset))
}

func (h *Handler) Instant(c echo.Context) error {
	doctorID, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid caller identity")
	}
	p, err := h.coordinator.RequestInstant(c.Request().Context(), doctorID)
	switch {
	case err == nil:
	case errors.Is(err, doctors.ErrBalanceTooLow), errors.Is(err, ErrNoPayoutAccount):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, doctors.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "doctor not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}
