// Package web serves the arm's HTTP API and live websocket streams.
package web

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-arx5/internal/log"
	"github.com/teslashibe/go-arx5/pkg/controller"
	"github.com/teslashibe/go-arx5/pkg/hub"
	"github.com/teslashibe/go-arx5/pkg/protocol"
	"github.com/teslashibe/go-arx5/pkg/remote"
)

// maxEvents is how many recent controller events are kept for /api/events.
const maxEvents = 200

// Arm is the controller the server exposes. *controller.Controller
// satisfies it.
type Arm interface {
	remote.Arm
	Start() error
	Pause() error
	Stop() error
	Stats() controller.Stats
	Events() <-chan controller.Event
}

// Config configures the server.
type Config struct {
	Port string `yaml:"port" json:"port"`
	// StateRate is the /ws/state publish rate in Hz.
	StateRate float64 `yaml:"state_rate" json:"state_rate"`
	// StaticDir, when set, is served at /.
	StaticDir string `yaml:"static_dir" json:"static_dir"`
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Port:      "8080",
		StateRate: 50,
	}
}

// Server is the HTTP API and websocket server.
type Server struct {
	app *fiber.App
	cfg Config
	arm Arm
	d   *remote.Dispatcher

	events   []controller.Event
	eventsMu sync.RWMutex

	stateHub  *hub.Hub
	eventsHub *hub.Hub

	// OnEvent, when set, receives every controller event.
	OnEvent func(controller.Event)
}

// NewServer creates a server for a. Commands go through d so that REST
// and websocket clients share one background job.
func NewServer(a Arm, d *remote.Dispatcher, cfg Config) *Server {
	if cfg.StateRate <= 0 {
		cfg.StateRate = DefaultConfig().StateRate
	}
	s := &Server{
		cfg:       cfg,
		arm:       a,
		d:         d,
		events:    make([]controller.Event, 0, maxEvents),
		stateHub:  hub.New("state"),
		eventsHub: hub.New("events"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "ARX5",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())
	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/state", s.handleState)
	api.Get("/stats", s.handleStats)
	api.Get("/config", s.handleConfig)
	api.Get("/events", s.handleEvents)
	api.Get("/gain", s.handleGetGain)
	api.Put("/gain", s.handleSetGain)
	api.Post("/command", s.handleCommand)
	api.Post("/action", s.handleAction)
	api.Post("/trajectory", s.handleTrajectory)
	api.Post("/home", s.handleHome)
	api.Post("/mode/:mode", s.handleMode)
	api.Post("/start", s.handleStart)
	api.Post("/pause", s.handlePause)
	api.Post("/stop", s.handleStop)

	app.Use("/ws/state", upgradeOnly)
	app.Use("/ws/events", upgradeOnly)
	app.Get("/ws/state", websocket.New(s.handleStateWS))
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

func upgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// App returns the fiber app so other routes can be mounted on it.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run drives the hubs, the state publisher and the event pump until ctx
// is done.
func (s *Server) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); s.stateHub.Run(ctx) }()
	go func() { defer wg.Done(); s.eventsHub.Run(ctx) }()
	go func() { defer wg.Done(); s.publishState(ctx) }()
	go func() { defer wg.Done(); s.pumpEvents(ctx) }()
	wg.Wait()
}

// Start runs the server until ctx is done or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	go s.Run(ctx)
	go func() {
		<-ctx.Done()
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Warn("web shutdown", "err", err)
		}
	}()

	log.Info("web api listening", "url", "http://localhost:"+s.cfg.Port)
	return s.app.Listen(":" + s.cfg.Port)
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) publishState(ctx context.Context) {
	lim := rate.NewLimiter(rate.Limit(s.cfg.StateRate), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		if s.stateHub.ClientCount() == 0 {
			continue
		}
		msg, err := s.stateMessage()
		if err != nil {
			log.Debug("encode state", "err", err)
			continue
		}
		data, err := msg.Bytes()
		if err != nil {
			continue
		}
		s.stateHub.Broadcast(hub.NewJSONMessage(data))
	}
}

func (s *Server) stateMessage() (*protocol.Message, error) {
	return protocol.NewStateMessage(s.arm.JointState(), s.arm.State().String(), s.arm.Emergency())
}

func (s *Server) pumpEvents(ctx context.Context) {
	events := s.arm.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			s.addEvent(e)
		}
	}
}

func (s *Server) addEvent(e controller.Event) {
	s.eventsMu.Lock()
	s.events = append(s.events, e)
	if len(s.events) > maxEvents {
		s.events = s.events[1:]
	}
	s.eventsMu.Unlock()

	if data, err := json.Marshal(e); err == nil {
		s.eventsHub.Broadcast(hub.NewJSONMessage(data))
	}
	if s.OnEvent != nil {
		s.OnEvent(e)
	}
}

// Events returns the recent controller events, oldest first.
func (s *Server) Events() []controller.Event {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	out := make([]controller.Event, len(s.events))
	copy(out, s.events)
	return out
}
