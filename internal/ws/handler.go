package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/loewenmaehne/revibe-music-sub000/internal/identity"
	"github.com/loewenmaehne/revibe-music-sub000/internal/metrics"
	"github.com/loewenmaehne/revibe-music-sub000/internal/room"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS middleware handles origin policy for the app
	},
}

// Handler upgrades HTTP requests to the single websocket endpoint and hands
// each connection its own client loop. All room and identity state lives in
// the services; the handler itself is stateless.
type Handler struct {
	identity  *identity.Service
	directory *room.Directory
}

func NewHandler(identitySvc *identity.Service, directory *room.Directory) *Handler {
	return &Handler{identity: identitySvc, directory: directory}
}

// HandleWebSocket is the gin endpoint for GET /ws. A returning client may
// pass ?client_id= to keep its voting identity across reconnects; otherwise
// it gets a fresh one.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	cl := &client{
		id:             clientID,
		conn:           conn,
		send:           make(chan []byte, 256),
		h:              h,
		suggestLimiter: rate.NewLimiter(rate.Every(2*time.Second), 5),
		logger:         log.With().Str("client", clientID).Logger(),
	}
	metrics.WsConnections.Inc()

	go cl.writePump()
	go cl.readPump()
}
