package push

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sessiontrail/sessiontrail/pkg/logger"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket upgrade requests for the push hub.
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewHandler creates a new push WebSocket handler.
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "push_handler")),
	}
}

// HandleConnection upgrades HTTP to WebSocket and registers the client.
// Clients announce their connection ID via the connection_id query parameter;
// when absent, the server assigns one and reports it in the response header.
func (h *Handler) HandleConnection(c *gin.Context) {
	connectionID := c.Query("connection_id")
	var respHeader http.Header
	if connectionID == "" {
		connectionID = uuid.New().String()
		respHeader = http.Header{"X-Connection-Id": []string{connectionID}}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, respHeader)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	h.logger.Debug("WebSocket connection established",
		zap.String("connection_id", connectionID),
		zap.String("remote_addr", c.Request.RemoteAddr),
	)

	client := NewClient(connectionID, conn, h.hub, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump()
}
