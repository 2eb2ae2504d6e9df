package realtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/xtrntr/powermarket/internal/models"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins, dashboards are served from several hosts
	},
}

// Server owns one registry per stream and serves the websocket endpoints
type Server struct {
	Chat          *Registry
	Notifications *Registry
	Echo          *Registry
	Clients       *Registry
	Countdowns    *Registry

	countdown *Countdown
	now       func() time.Time
	logger    *zap.SugaredLogger
}

// NewServer creates the realtime server. interval is the countdown tick.
func NewServer(windows WindowSource, interval time.Duration, logger *zap.SugaredLogger) *Server {
	s := &Server{
		Chat:          NewRegistry("chat", logger),
		Notifications: NewRegistry("notifications", logger),
		Echo:          NewRegistry("echo", logger),
		Clients:       NewRegistry("clients", logger),
		Countdowns:    NewRegistry("countdown", logger),
		now:           time.Now,
		logger:        logger,
	}
	s.countdown = NewCountdown(windows, s.Countdowns, interval, logger)
	return s
}

// Notify broadcasts msg to every notifications client
func (s *Server) Notify(msg string) {
	if _, err := s.Notifications.BroadcastJSON(s.notice(msg)); err != nil {
		s.logger.Errorw("failed to encode notification", "error", err)
	}
}

func (s *Server) notice(msg string) models.Notice {
	return models.NewNotice(msg, s.now())
}

// serve upgrades the request, admits the client to reg and calls onMessage
// for each inbound text frame until the client goes away.
func (s *Server) serve(w http.ResponseWriter, r *http.Request, reg *Registry, onConnect func(*WSClient), onMessage func(*WSClient, string)) *WSClient {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("failed to upgrade connection", "path", r.URL.Path, "error", err)
		return nil
	}

	client := NewWSClient(conn)
	reg.Connect(client)
	defer client.Close()
	defer reg.Disconnect(client)

	if onConnect != nil {
		onConnect(client)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("websocket read error", "conn", client.ID(), "error", err)
			}
			return client
		}
		onMessage(client, string(data))
	}
}

// HandleChat broadcasts every inbound message to all chat clients
func (s *Server) HandleChat(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, s.Chat, nil, func(_ *WSClient, text string) {
		s.Chat.BroadcastJSON(s.notice("Chat message: " + text))
	})
}

// HandleNotifications broadcasts every inbound message to all notification clients
func (s *Server) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, s.Notifications, nil, func(_ *WSClient, text string) {
		s.Notify("Notification: " + text)
	})
}

// HandleEcho replies to the sender only
func (s *Server) HandleEcho(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, s.Echo, nil, func(c *WSClient, text string) {
		s.Echo.SendJSON(c, s.notice("You said: "+text))
	})
}

// HandleClient serves the per-client channel: a welcome to the new client,
// join and leave announcements, and relayed messages prefixed with the id.
func (s *Server) HandleClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	client := s.serve(w, r, s.Clients,
		func(c *WSClient) {
			s.Clients.SendJSON(c, s.notice(fmt.Sprintf("Welcome %s! You are connected.", clientID)))
			s.Clients.BroadcastJSON(s.notice(clientID + " joined the chat"))
		},
		func(_ *WSClient, text string) {
			s.Clients.BroadcastJSON(s.notice(clientID + ": " + text))
		})
	if client != nil {
		s.Clients.BroadcastJSON(s.notice(clientID + " left the chat"))
	}
}

// HandleCountdown streams the submission window countdown. The registry entry
// is released when the loop ends; after a closed status the socket itself
// stays open until the client leaves.
func (s *Server) HandleCountdown(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("failed to upgrade connection", "path", r.URL.Path, "error", err)
		return
	}

	client := NewWSClient(conn)
	s.Countdowns.Connect(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Inbound frames are ignored; a read error means the client is gone
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = s.countdown.Run(ctx, client)
	s.Countdowns.Disconnect(client)
	if err != nil {
		s.logger.Debugw("countdown stopped", "conn", client.ID(), "error", err)
		client.Close()
	}
	<-done
	client.Close()
}
