package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"
	"github.com/vctt94/bisonbotkit/logging"

	"github.com/devnation593/chupistica/pkg/chupistica"
	"github.com/devnation593/chupistica/pkg/server"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024

	// sendBuffer sizes the per-connection outbound queue for responses
	// and events combined.
	sendBuffer = 64
)

// Gateway upgrades HTTP connections to WebSocket and bridges the JSON
// command/event envelopes to the dispatcher. One Client exists per
// connection; a client observing a session holds one bus subscription.
type Gateway struct {
	dispatcher *server.Dispatcher
	log        slog.Logger
	upgrader   websocket.Upgrader
}

// New creates a gateway on top of the dispatcher.
func New(dispatcher *server.Dispatcher, logBackend *logging.LogBackend) *Gateway {
	return &Gateway{
		dispatcher: dispatcher,
		log:        logBackend.Logger("GTWY"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// HandleWS is the /ws endpoint.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debugf("upgrade failed: %v", err)
		return
	}

	client := &Client{
		gateway:  g,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		quitChan: make(chan struct{}),
	}

	go client.writePump()
	go client.readPump()
}

// resolveSessionCode extracts the session code a successful response binds
// the connection to.
func resolveSessionCode(req server.RequestEnvelope, resp server.ResponseEnvelope) string {
	if created, ok := resp.Data.(server.GameCreatedPayload); ok {
		return created.Code
	}
	if req.Code == "" {
		return ""
	}
	code, err := chupistica.ValidateCode(req.Code)
	if err != nil {
		return ""
	}
	return code
}

// marshalFrame serializes an outbound frame, logging instead of failing the
// connection on the (unreachable) marshal error.
func (g *Gateway) marshalFrame(v interface{}) ([]byte, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		g.log.Errorf("failed to marshal frame: %v", err)
		return nil, false
	}
	return data, true
}
