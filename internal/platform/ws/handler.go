package ws

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/heydoc/consult/internal/platform/auth"
	"github.com/heydoc/consult/internal/platform/events"
)

func marshalEvent(event events.Event) ([]byte, error) {
	return json.Marshal(event)
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks are handled by the CORS layer in front.
		return true
	},
}

// Handler upgrades authenticated HTTP requests to WebSocket sessions.
type Handler struct {
	hub *Hub
}

// NewHandler creates a Handler bound to the given hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes binds the WebSocket endpoint on the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.Connect)
}

// topicsFor derives the topic set from the caller's identity. Doctors also
// follow the shared standard queue feed so they see new pull-queue work.
func topicsFor(userID, role string) []string {
	switch role {
	case auth.RoleDoctor:
		return []string{TopicDoctor(userID), TopicStandardQueue}
	case auth.RolePatient:
		return []string{TopicPatient(userID)}
	default:
		return []string{TopicStandardQueue}
	}
}

// Connect handles GET /ws. The subscription set is fixed at connect time
// from the authenticated identity; clients cannot subscribe to other users'
// topics.
func (h *Handler) Connect(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())
	role := auth.RoleFromContext(c.Request().Context())
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.NewString(),
		Topics: topicsFor(userID, role),
		Send:   make(chan []byte, 256),
	}
	h.hub.Register(client)

	go h.writePump(client, conn)
	go h.readPump(client, conn)
	return nil
}

// readPump discards inbound frames and tears the client down when the
// connection drops.
func (h *Handler) readPump(client *Client, conn *gorillaws.Conn) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(client *Client, conn *gorillaws.Conn) {
	defer conn.Close()
	for message := range client.Send {
		if err := conn.WriteMessage(gorillaws.TextMessage, message); err != nil {
			return
		}
	}
}
