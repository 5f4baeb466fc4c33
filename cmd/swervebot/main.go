package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/alecthomas/kong"
	"github.com/edaniels/golog"
	"go.uber.org/zap"

	"github.com/tigerbot-team/swervebot/pkg/chassis"
	"github.com/tigerbot-team/swervebot/pkg/hardware"
)

var CLI struct {
	Config string `help:"YAML chassis config; defaults are used for anything it doesn't set." type:"path"`
	Sim    bool   `help:"Drive the simulator instead of real hardware."`
	Debug  bool   `help:"Log at debug level."`

	Run        RunCmd        `cmd:"" default:"1" help:"Drive the robot from the joystick."`
	Calibrate  CalibrateCmd  `cmd:"" help:"Print raw absolute encoder angles for setting module offsets."`
	DumpConfig DumpConfigCmd `cmd:"" help:"Write the effective config to a file."`
	JoyTest    JoyTestCmd    `cmd:"" help:"Print joystick events."`
	Power      PowerCmd      `cmd:"" help:"Print supply voltage, current and power."`
	Gyro       GyroCmd       `cmd:"" help:"Print gyro reports and measure drift."`
}

type Context struct {
	log golog.Logger
	cfg chassis.Config
	sim bool
}

func (c *Context) openHardware() (*hardware.Hardware, error) {
	if c.sim {
		c.log.Infow("using simulated hardware")
		return hardware.NewSim(c.cfg, c.log.Named("sim"))
	}
	return hardware.Open(c.cfg, c.log.Named("hw"))
}

func main() {
	fmt.Print("---- swervebot ----\n\n")
	fmt.Println("GOMAXPROCS", runtime.GOMAXPROCS(0))

	kctx := kong.Parse(&CLI,
		kong.Name("swervebot"),
		kong.Description("Swerve drive controller."),
	)

	log := golog.NewDevelopmentLogger("swervebot")
	if !CLI.Debug {
		log = log.Desugar().WithOptions(zap.IncreaseLevel(zap.InfoLevel)).Sugar()
	}

	cfg := chassis.Default()
	if CLI.Config != "" {
		var err error
		cfg, err = chassis.Load(CLI.Config)
		if err != nil {
			log.Errorw("bad config", "error", err)
			os.Exit(1)
		}
	}
	log.Infow("loaded config", "chassis", cfg.String())

	err := kctx.Run(&Context{log: log, cfg: cfg, sim: CLI.Sim})
	if err != nil {
		log.Errorw("failed", "command", kctx.Command(), "error", err)
		os.Exit(1)
	}
}
