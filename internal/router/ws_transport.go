package router

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WSTransport adapts the shared Router onto a persistent signed-messaging
// connection: every inbound JSON frame is a PipeRequest, every outbound
// frame the matching PipeResponse (spec §4.5, transport 2 of 2). Unlike the
// HTTP transport, a single connection serves many requests; each is
// dispatched independently so a slow handler does not block other frames.
type WSTransport struct {
	Router   *Router
	Upgrader websocket.Upgrader
	Log      *logrus.Entry
}

func NewWSTransport(r *Router, log *logrus.Entry) *WSTransport {
	return &WSTransport{
		Router: r,
		Log:    log,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (t *WSTransport) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := t.Upgrader.Upgrade(w, req, nil)
	if err != nil {
		t.Log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx := req.Context()
	writeMu := make(chan struct{}, 1)
	writeMu <- struct{}{}

	for {
		var pipeReq PipeRequest
		if err := conn.ReadJSON(&pipeReq); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.Log.WithError(err).Debug("websocket connection closed unexpectedly")
			}
			return
		}

		go func(r PipeRequest) {
			resp := t.Router.Dispatch(ctx, "ws", r)

			<-writeMu
			defer func() { writeMu <- struct{}{} }()
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(resp); err != nil {
				t.Log.WithError(err).Warn("websocket write failed")
			}
		}(pipeReq)
	}
}
