package events

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/heydoc/consult/internal/platform/auth"
)

// WebhookHandler exposes webhook endpoint administration. Platform admins
// register receiver URLs; the dispatcher signs and delivers matching events.
type WebhookHandler struct {
	dispatcher *WebhookDispatcher
}

func NewWebhookHandler(dispatcher *WebhookDispatcher) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher}
}

func (h *WebhookHandler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/webhooks", auth.RequireRole(auth.RolePlatformAdmin))
	g.POST("", h.Register)
	g.GET("", h.List)
	g.GET("/deliveries", h.Deliveries)
	g.POST("/:id/deactivate", h.Deactivate)
	g.DELETE("/:id", h.Remove)
}

type registerWebhookRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret,omitempty"`
	Events []string `json:"events"`
}

func (h *WebhookHandler) Register(c echo.Context) error {
	var req registerWebhookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ep, err := h.dispatcher.Register(req.URL, req.Secret, req.Events)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusCreated, ep)
}

func (h *WebhookHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, h.dispatcher.Endpoints())
}

func (h *WebhookHandler) Deliveries(c echo.Context) error {
	return c.JSON(http.StatusOK, h.dispatcher.Deliveries(100))
}

func (h *WebhookHandler) Deactivate(c echo.Context) error {
	if err := h.dispatcher.Deactivate(c.Param("id")); err != nil {
		return webhookError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *WebhookHandler) Remove(c echo.Context) error {
	if err := h.dispatcher.Remove(c.Param("id")); err != nil {
		return webhookError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func webhookError(err error) error {
	if errors.Is(err, ErrEndpointNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
