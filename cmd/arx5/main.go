// arx5: run and operate an ARX5 arm over CAN.
//
//	arx5 serve                 HTTP API, state stream and remote control
//	arx5 gravcomp              gravity compensation with a state readout
//	arx5 home                  carry the arm home and damp it
//	arx5 calibrate out.json    record joint ranges by hand
//	arx5 bihome                home a left/right pair in parallel
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-arx5/internal/config"
	"github.com/teslashibe/go-arx5/internal/log"
	"github.com/teslashibe/go-arx5/pkg/bimanual"
	"github.com/teslashibe/go-arx5/pkg/calibration"
	"github.com/teslashibe/go-arx5/pkg/can"
	"github.com/teslashibe/go-arx5/pkg/controller"
	"github.com/teslashibe/go-arx5/pkg/motion"
	"github.com/teslashibe/go-arx5/pkg/protocol"
	"github.com/teslashibe/go-arx5/pkg/remote"
	"github.com/teslashibe/go-arx5/pkg/sim"
	"github.com/teslashibe/go-arx5/pkg/web"
)

var version = "0.1.0"

func main() {
	app := cli.NewApp()
	app.Name = "arx5"
	app.Usage = "run and operate an ARX5 arm"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "YAML configuration file",
			EnvVar: "ARX5_CONFIG",
		},
		cli.StringFlag{
			Name:  "interface, i",
			Usage: "CAN interface (can0, serial:/dev/ttyACM0@1000000); overrides the config",
		},
		cli.StringFlag{
			Name:  "model, m",
			Usage: "arm model (X5, L5); overrides the config",
		},
		cli.BoolFlag{
			Name:  "sim",
			Usage: "drive a simulated arm instead of a CAN bus",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error; overrides the config",
		},
	}
	app.Before = func(c *cli.Context) error {
		f, err := loadConfig(c)
		if err != nil {
			return err
		}
		log.Init(f.LogLevel)
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "serve the HTTP API, state stream and remote control",
			Action: serve,
		},
		{
			Name:  "gravcomp",
			Usage: "hold the arm in gravity compensation and print its state",
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "every", Value: 200 * time.Millisecond, Usage: "print interval"},
			},
			Action: gravcomp,
		},
		{
			Name:  "home",
			Usage: "carry the arm to the zero pose, then damp it",
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "smooth", Usage: "stream an eased move of this duration instead of homing"},
				cli.StringFlag{Name: "easing", Value: string(motion.EaseInOutQuad), Usage: "linear or ease_in_out_quad"},
			},
			Action: home,
		},
		{
			Name:      "calibrate",
			Usage:     "record joint ranges while the arm is moved by hand",
			ArgsUsage: "<output.json>",
			Action:    calibrate,
		},
		{
			Name:  "bihome",
			Usage: "home a left/right pair in parallel",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "left", Value: "can0", Usage: "left arm interface"},
				cli.StringFlag{Name: "right", Value: "can1", Usage: "right arm interface"},
			},
			Action: bihome,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error("arx5 failed", "err", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig(c *cli.Context) (*config.File, error) {
	f, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	if v := c.GlobalString("interface"); v != "" {
		f.Interface = v
	}
	if v := c.GlobalString("model"); v != "" {
		f.Model = v
	}
	if v := c.GlobalString("log-level"); v != "" {
		f.LogLevel = v
	}
	return f, f.Validate()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openArm builds a controller on the configured bus, or on a simulated
// arm with --sim.
func openArm(c *cli.Context, f *config.File, iface, name string) (*controller.Controller, error) {
	robot, err := f.Robot()
	if err != nil {
		return nil, err
	}
	opts := []controller.Option{controller.WithName(name)}

	var bus can.Bus
	if c.GlobalBool("sim") {
		s, err := sim.New(&robot, f.Controller.DT)
		if err != nil {
			return nil, err
		}
		bus = s
		opts = append(opts, controller.WithInverseDynamics(s))
		log.Info("using simulated arm", "arm", name, "model", robot.Model)
	} else {
		if bus, err = can.Open(iface); err != nil {
			return nil, fmt.Errorf("open %s: %w", iface, err)
		}
		log.Info("bus open", "arm", name, "interface", iface, "model", robot.Model)
	}

	ctrl, err := controller.New(robot, f.Controller, bus, opts...)
	if err != nil {
		bus.Close()
		return nil, err
	}
	return ctrl, nil
}

// shutdown homes the arm, damps it and stops the loop.
func shutdown(ctrl *controller.Controller) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if !ctrl.Emergency() {
		if err := ctrl.ResetToHome(ctx); err != nil {
			log.Warn("homing on shutdown", "err", err)
		}
		if err := ctrl.SetToDamping(); err != nil {
			log.Warn("damping on shutdown", "err", err)
		}
	}
	if err := ctrl.Stop(); err != nil {
		log.Warn("stop", "err", err)
	}
}

func serve(c *cli.Context) error {
	f, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctrl, err := openArm(c, f, f.Interface, "arm")
	if err != nil {
		return err
	}
	if err := ctrl.Start(); err != nil {
		return err
	}
	defer shutdown(ctrl)

	var dopts []remote.DispatchOption
	dopts = append(dopts, remote.WithInference(f.Inference))
	if f.Calibration != "" {
		robot, _ := f.Robot()
		cal, err := calibration.Load(f.Calibration, robot.DOF())
		if err != nil {
			return err
		}
		dopts = append(dopts, remote.WithCalibration(cal))
	}
	d := remote.NewDispatcher(ctrl, dopts...)
	defer d.Close()

	gw := remote.NewGateway(d)
	gw.DampOnLastDisconnect = f.DampOnDisconnect

	srv := web.NewServer(ctrl, d, f.Web)
	srv.OnEvent = func(e controller.Event) {
		msg, err := protocol.NewEventMessage(string(e.Kind), e.Message, time.Now())
		if err == nil {
			gw.Broadcast(msg)
		}
	}

	app := srv.App()
	app.Use(recover.New())
	gw.RegisterRoutes(app)
	gw.RegisterAPIRoutes(app.Group("/api"))
	app.Get("/health", func(fc *fiber.Ctx) error {
		return fc.JSON(fiber.Map{
			"status":    "ok",
			"version":   version,
			"state":     ctrl.State().String(),
			"emergency": ctrl.Emergency(),
			"sessions":  gw.SessionCount(),
		})
	})

	ctx, stop := signalContext()
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		return nil
	})
	return g.Wait()
}

func gravcomp(c *cli.Context) error {
	f, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctrl, err := openArm(c, f, f.Interface, "arm")
	if err != nil {
		return err
	}
	if err := ctrl.Start(); err != nil {
		return err
	}
	defer shutdown(ctrl)

	if err := motion.SetMode(ctrl, motion.ModeGravityCompensation, false); err != nil {
		return err
	}
	log.Info("gravity compensation on, Ctrl+C to home and exit")

	ctx, stop := signalContext()
	defer stop()
	ticker := time.NewTicker(c.Duration("every"))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s := ctrl.JointState()
			fmt.Printf("t=%.3f pos=%.3f gripper=%.4f torque=%.2f\n", s.Timestamp, s.Pos, s.GripperPos, s.Torque)
		}
	}
}

func home(c *cli.Context) error {
	f, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctrl, err := openArm(c, f, f.Interface, "arm")
	if err != nil {
		return err
	}
	if err := ctrl.Start(); err != nil {
		return err
	}
	defer ctrl.Stop()

	ctx, stop := signalContext()
	defer stop()

	if d := c.Duration("smooth"); d > 0 {
		e, err := motion.ParseEasing(c.String("easing"))
		if err != nil {
			return err
		}
		p := motion.NewPlayer(ctrl, motion.WithInference(f.Inference))
		if err := p.SmoothGoHome(ctx, d, e); err != nil {
			return err
		}
	} else if err := ctrl.ResetToHome(ctx); err != nil {
		return err
	}
	log.Info("home reached")
	return ctrl.SetToDamping()
}

func calibrate(c *cli.Context) error {
	out := c.Args().First()
	if out == "" {
		return cli.NewExitError("calibrate: output path required", 2)
	}
	f, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctrl, err := openArm(c, f, f.Interface, "arm")
	if err != nil {
		return err
	}
	if err := ctrl.Start(); err != nil {
		return err
	}
	defer shutdown(ctrl)

	if err := motion.SetMode(ctrl, motion.ModeGravityCompensation, false); err != nil {
		return err
	}
	robot := ctrl.RobotConfig()
	rec := calibration.NewRecorder(robot.DOF())
	log.Info("move every joint through its range, Ctrl+C to save", "output", out)

	ctx, stop := signalContext()
	defer stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if err := rec.Observe(ctrl.JointState()); err != nil {
				return err
			}
		}
	}

	cal, err := rec.Calibration()
	if err != nil {
		return err
	}
	if err := calibration.Save(out, cal); err != nil {
		return err
	}
	log.Info("calibration saved", "output", out, "samples", rec.Samples())
	return nil
}

func bihome(c *cli.Context) error {
	f, err := loadConfig(c)
	if err != nil {
		return err
	}
	left, err := openArm(c, f, c.String("left"), "left")
	if err != nil {
		return err
	}
	right, err := openArm(c, f, c.String("right"), "right")
	if err != nil {
		left.Stop()
		return err
	}
	robot := left.RobotConfig()
	pair := bimanual.New(left, right, robot.DOF())

	ctx, stop := signalContext()
	defer stop()
	if err := pair.Start(ctx); err != nil {
		pair.Stop()
		return err
	}
	defer pair.Stop()

	if err := pair.ResetToHome(ctx); err != nil {
		return err
	}
	log.Info("both arms home")
	return pair.SetToDamping(ctx)
}
