package web

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-arx5/internal/log"
	"github.com/teslashibe/go-arx5/pkg/hub"
	"github.com/teslashibe/go-arx5/pkg/protocol"
	"github.com/teslashibe/go-arx5/pkg/remote"
)

// fail writes err with the status its class maps to.
func fail(c *fiber.Ctx, err error) error {
	code, status := remote.Classify(err)
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": err.Error(),
		"code":  remote.CodeInvalid,
	})
}

func ok(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleState returns the latest joint state
func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(protocol.StateFromJointState(s.arm.JointState(), s.arm.State().String(), s.arm.Emergency()))
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(s.arm.Stats())
}

// handleConfig returns the robot and controller configuration
func (s *Server) handleConfig(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"robot":      s.arm.RobotConfig(),
		"controller": s.arm.ControllerConfig(),
	})
}

func (s *Server) handleEvents(c *fiber.Ctx) error {
	return c.JSON(s.Events())
}

func (s *Server) handleGetGain(c *fiber.Ctx) error {
	return c.JSON(protocol.GainFromArm(s.arm.Gain()))
}

func (s *Server) handleSetGain(c *fiber.Ctx) error {
	var g protocol.GainData
	if err := c.BodyParser(&g); err != nil {
		return badRequest(c, err)
	}
	if err := s.arm.SetGain(g.Gain()); err != nil {
		return fail(c, err)
	}
	return c.JSON(protocol.GainFromArm(s.arm.Gain()))
}

// handleCommand installs a joint target
func (s *Server) handleCommand(c *fiber.Ctx) error {
	var cmd protocol.CommandData
	if err := c.BodyParser(&cmd); err != nil {
		return badRequest(c, err)
	}
	if err := s.d.Command(cmd); err != nil {
		return fail(c, err)
	}
	return ok(c)
}

func (s *Server) handleAction(c *fiber.Ctx) error {
	var act protocol.ActionData
	if err := c.BodyParser(&act); err != nil {
		return badRequest(c, err)
	}
	if err := s.d.Action(act); err != nil {
		return fail(c, err)
	}
	return ok(c)
}

// handleTrajectory starts a multi-segment move and returns immediately.
func (s *Server) handleTrajectory(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)
	msg := &protocol.Message{Type: protocol.TypeTrajectory, Data: body}
	return s.startJob(c, msg)
}

// handleHome starts homing and returns immediately.
func (s *Server) handleHome(c *fiber.Ctx) error {
	return s.startJob(c, &protocol.Message{Type: protocol.TypeHome})
}

// startJob validates msg synchronously; errors found before the job
// starts are returned, later ones are logged.
func (s *Server) startJob(c *fiber.Ctx, msg *protocol.Message) error {
	var (
		mu       sync.Mutex
		returned bool
		early    *protocol.Message
	)
	s.d.Dispatch(msg, func(out *protocol.Message) {
		mu.Lock()
		defer mu.Unlock()
		if !returned {
			early = out
			return
		}
		if out.Type == protocol.TypeError {
			if e, err := out.GetErrorData(); err == nil {
				log.Warn("background job ended with error", "type", msg.Type, "code", e.Code, "err", e.Message)
			}
		}
	})

	mu.Lock()
	returned = true
	out := early
	mu.Unlock()

	switch {
	case out == nil:
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "started"})
	case out.Type == protocol.TypeError:
		e, _ := out.GetErrorData()
		return c.Status(statusFor(e.Code)).JSON(fiber.Map{"error": e.Message, "code": e.Code})
	default:
		return ok(c)
	}
}

func statusFor(code string) int {
	switch code {
	case remote.CodeInvalid:
		return fiber.StatusBadRequest
	case remote.CodeEmergency, remote.CodeNotRunning, remote.CodeDangerousGain:
		return fiber.StatusConflict
	case remote.CodeCanceled:
		return fiber.StatusRequestTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// handleMode switches the operating mode (?inference=true for the
// inference gains).
func (s *Server) handleMode(c *fiber.Ctx) error {
	if err := s.d.Mode(c.Params("mode"), c.QueryBool("inference")); err != nil {
		return fail(c, err)
	}
	return c.JSON(protocol.GainFromArm(s.arm.Gain()))
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	if err := s.arm.Start(); err != nil {
		return fail(c, err)
	}
	return ok(c)
}

func (s *Server) handlePause(c *fiber.Ctx) error {
	if err := s.arm.Pause(); err != nil {
		return fail(c, err)
	}
	return ok(c)
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	if err := s.arm.Stop(); err != nil {
		return fail(c, err)
	}
	return ok(c)
}

// handleStateWS streams joint state at the configured rate
func (s *Server) handleStateWS(c *websocket.Conn) {
	client := hub.NewClient(s.stateHub, c)
	if msg, err := s.stateMessage(); err == nil {
		if data, err := msg.Bytes(); err == nil {
			client.Send(hub.NewJSONMessage(data))
		}
	}
	client.Run()
}

// handleEventsWS streams controller events as they happen
func (s *Server) handleEventsWS(c *websocket.Conn) {
	client := hub.NewClient(s.eventsHub, c)
	client.Run()
}
