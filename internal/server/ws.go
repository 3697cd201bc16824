package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/events"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	streamBuffer = 256
)

func (s *Server) upgrader() websocket.Upgrader {
	allowed := make(map[string]bool, len(s.cfg.AllowedOrigins))
	for _, o := range s.cfg.AllowedOrigins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		},
	}
}

// handleEvents streams bus events as JSON text frames. With
// ?investigation=<id> only that batch's events are sent, starting with the
// ones already in the bus history.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	up := s.upgrader()
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("server: websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close() //nolint:errcheck

	filter := r.URL.Query().Get("investigation")
	queue := make(chan events.Event, streamBuffer)
	subID := s.bus.Subscribe(func(e events.Event) {
		if filter != "" && e.InvestigationID != filter {
			return
		}
		select {
		case queue <- e:
		default:
			zap.L().Warn("server: websocket client slow, dropping event",
				zap.String("type", string(e.Type)),
			)
		}
	})
	defer s.bus.Unsubscribe(subID)

	if filter != "" {
		for _, e := range s.bus.Since(filter) {
			if err := writeEvent(ws, e); err != nil {
				return
			}
		}
	}

	// The read loop only detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e := <-queue:
			if err := writeEvent(ws, e); err != nil {
				zap.L().Debug("server: websocket write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeEvent(ws *websocket.Conn, e events.Event) error {
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.WriteJSON(e)
}
