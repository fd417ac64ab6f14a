package remote

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-arx5/internal/log"
	"github.com/teslashibe/go-arx5/pkg/protocol"
)

// Session is one connected command client.
type Session struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time

	mu sync.Mutex
}

// Send writes a message to the client.
func (s *Session) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.LastSeen = time.Now()
	s.mu.Unlock()
}

// Gateway accepts command clients on /ws/control and hands their
// messages to a Dispatcher.
type Gateway struct {
	d *Dispatcher

	mu       sync.RWMutex
	sessions map[string]*Session

	// DampOnLastDisconnect switches the arm to damping when the last
	// client goes away.
	DampOnLastDisconnect bool

	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	rejected         atomic.Uint64
}

// NewGateway creates a gateway in front of d.
func NewGateway(d *Dispatcher) *Gateway {
	return &Gateway{
		d:        d,
		sessions: make(map[string]*Session),
	}
}

// RegisterRoutes registers the WebSocket endpoints on app.
func (g *Gateway) RegisterRoutes(app *fiber.App) {
	app.Use("/ws/control", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/control", websocket.New(g.handle))
	app.Get("/ws/control/:id", websocket.New(g.handle))
}

func (g *Gateway) handle(c *websocket.Conn) {
	id := c.Params("id")
	if id == "" {
		id = uuid.NewString()
	}

	s := &Session{
		ID:        id,
		Conn:      c,
		Connected: time.Now(),
		LastSeen:  time.Now(),
	}

	g.mu.Lock()
	if old, ok := g.sessions[id]; ok {
		old.Conn.Close()
	}
	g.sessions[id] = s
	count := len(g.sessions)
	g.mu.Unlock()

	logger := log.With("session", id)
	logger.Info("control client connected", "sessions", count)

	defer func() {
		g.mu.Lock()
		if g.sessions[id] == s {
			delete(g.sessions, id)
		}
		count := len(g.sessions)
		g.mu.Unlock()
		logger.Info("control client disconnected", "sessions", count)

		if count == 0 && g.DampOnLastDisconnect {
			if err := g.d.Arm().SetToDamping(); err != nil {
				logger.Warn("damping on disconnect failed", "err", err)
			}
		}
	}()

	reply := func(msg *protocol.Message) {
		if msg == nil {
			return
		}
		g.messagesSent.Add(1)
		if err := s.Send(msg); err != nil {
			logger.Debug("reply failed", "err", err)
		}
	}

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			logger.Debug("read ended", "err", err)
			return
		}
		s.touch()
		g.messagesReceived.Add(1)

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			g.rejected.Add(1)
			errMsg, _ := protocol.NewErrorMessage("", CodeInvalid, err.Error())
			reply(errMsg)
			continue
		}
		g.d.Dispatch(msg, func(out *protocol.Message) {
			if out != nil && out.Type == protocol.TypeError {
				g.rejected.Add(1)
			}
			reply(out)
		})
	}
}

// Broadcast sends msg to every connected client.
func (g *Gateway) Broadcast(msg *protocol.Message) {
	for _, s := range g.Sessions() {
		g.messagesSent.Add(1)
		if err := s.Send(msg); err != nil {
			log.Debug("broadcast failed", "session", s.ID, "err", err)
		}
	}
}

// Sessions returns the connected sessions.
func (g *Gateway) Sessions() []*Session {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		out = append(out, s)
	}
	return out
}

// SessionCount returns the number of connected clients.
func (g *Gateway) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Stats contains gateway statistics.
type Stats struct {
	SessionCount     int    `json:"session_count"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	Rejected         uint64 `json:"rejected"`
}

// GetStats returns gateway statistics.
func (g *Gateway) GetStats() Stats {
	return Stats{
		SessionCount:     g.SessionCount(),
		MessagesReceived: g.messagesReceived.Load(),
		MessagesSent:     g.messagesSent.Load(),
		Rejected:         g.rejected.Load(),
	}
}

// SessionInfo describes a connected client.
type SessionInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// SessionInfos returns info about all connected clients.
func (g *Gateway) SessionInfos() []SessionInfo {
	sessions := g.Sessions()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		infos = append(infos, SessionInfo{
			ID:        s.ID,
			Connected: s.Connected,
			LastSeen:  s.LastSeen,
		})
		s.mu.Unlock()
	}
	return infos
}

// RegisterAPIRoutes registers session management routes.
func (g *Gateway) RegisterAPIRoutes(api fiber.Router) {
	sessions := api.Group("/sessions")

	sessions.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"sessions": g.SessionInfos(),
			"count":    g.SessionCount(),
		})
	})

	sessions.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(g.GetStats())
	})

	sessions.Delete("/:id", func(c *fiber.Ctx) error {
		id := c.Params("id")
		g.mu.RLock()
		s, ok := g.sessions[id]
		g.mu.RUnlock()
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not connected"})
		}
		s.Conn.Close()
		return c.JSON(fiber.Map{"status": "closed", "id": id})
	})
}
