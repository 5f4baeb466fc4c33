package chassis

import (
	"fmt"
	"io/ioutil"
	"math"
	"time"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/tigerbot-team/swervebot/pkg/kinematics"
	"github.com/tigerbot-team/swervebot/pkg/pid"
	"github.com/tigerbot-team/swervebot/pkg/swervemodule"
)

const (
	AllianceBlue = "blue"
	AllianceRed  = "red"

	EncoderAS5600 = "as5600"
	EncoderAS5048 = "as5048"
)

// ModuleConfig is the per-corner part of the config.
type ModuleConfig struct {
	// Offset is the raw absolute encoder reading, in radians, when the wheel
	// points straight ahead.
	Offset        float64 `yaml:"offset"`
	DriveInverted bool    `yaml:"drive_inverted"`
	SteerInverted bool    `yaml:"steer_inverted"`

	DriveCANID uint32 `yaml:"drive_can_id"`
	SteerCANID uint32 `yaml:"steer_can_id"`
	// EncoderPort is the mux port (AS5600) or chip select (AS5048).
	EncoderPort int `yaml:"encoder_port"`

	// SteerPID overrides the chassis-wide steering gains for this corner.
	SteerPID *pid.Gains `yaml:"steer_pid,omitempty"`
}

type HardwareConfig struct {
	CANInterface string `yaml:"can_interface"`
	// MotorCountsPerRev is the resolution of the motor controllers'
	// integrated encoders.
	MotorCountsPerRev float64 `yaml:"motor_counts_per_rev"`

	GyroDevice  string `yaml:"gyro_device"`
	EncoderType string `yaml:"encoder_type"`
	I2CDevice   string `yaml:"i2c_device"`
	MuxAddr     int    `yaml:"mux_addr"`
	// SPIBus is the spidev prefix; the encoder port picks the chip select.
	SPIBus string `yaml:"spi_bus"`
	// PowerSensorAddr is the INA219's I2C address; 0 disables voltage
	// reporting.
	PowerSensorAddr int `yaml:"power_sensor_addr"`
}

type Config struct {
	// TrackWidth is the left-right distance between wheel centres, WheelBase
	// the front-back one, both in metres.
	TrackWidth float64       `yaml:"track_width"`
	WheelBase  float64       `yaml:"wheel_base"`
	Period     time.Duration `yaml:"period"`

	DriveGearRatio float64 `yaml:"drive_gear_ratio"`
	SteerGearRatio float64 `yaml:"steer_gear_ratio"`
	WheelDiameter  float64 `yaml:"wheel_diameter"`

	MaxDriveSpeed  float64 `yaml:"max_drive_speed"`
	MaxRotateSpeed float64 `yaml:"max_rotate_speed"`
	PathMaxSpeed   float64 `yaml:"path_max_speed"`
	SlowModeScale  float64 `yaml:"slow_mode_scale"`
	SlowDriveSpeed float64 `yaml:"slow_drive_speed"`
	// SlewRate limits each chassis speed axis, in units per second.  Zero
	// turns limiting off.
	SlewRate float64 `yaml:"slew_rate"`

	SteerPID pid.Gains `yaml:"steer_pid"`
	DrivePID pid.Gains `yaml:"drive_pid"`

	HeadingPID       pid.Gains `yaml:"heading_pid"`
	HeadingTolerance float64   `yaml:"heading_tolerance"`

	GyroSettle    time.Duration `yaml:"gyro_settle"`
	FieldOriented bool          `yaml:"field_oriented"`
	Alliance      string        `yaml:"alliance"`

	FrontLeft  ModuleConfig `yaml:"front_left"`
	FrontRight ModuleConfig `yaml:"front_right"`
	BackLeft   ModuleConfig `yaml:"back_left"`
	BackRight  ModuleConfig `yaml:"back_right"`

	Hardware HardwareConfig `yaml:"hardware"`
}

// Default is a 0.6m square chassis with MK4i-style modules running at 50Hz.
func Default() Config {
	return Config{
		TrackWidth: 0.6,
		WheelBase:  0.6,
		Period:     20 * time.Millisecond,

		DriveGearRatio: 1 / 6.75,
		SteerGearRatio: 1 / 12.75,
		WheelDiameter:  0.1016,

		MaxDriveSpeed:  4.5,
		MaxRotateSpeed: 4 * math.Pi,
		PathMaxSpeed:   3,
		SlowModeScale:  0.3,
		SlowDriveSpeed: 1.5,
		SlewRate:       3,

		SteerPID: pid.Gains{P: 0.5},
		DrivePID: pid.Gains{P: 0.05, MaxOutput: 0.2},

		HeadingPID:       pid.Gains{P: 4, I: 0.5, MaxIntegral: 0.3, MaxOutput: 2 * math.Pi},
		HeadingTolerance: 2,

		GyroSettle:    time.Second,
		Alliance:      AllianceBlue,
		FieldOriented: true,

		FrontLeft:  ModuleConfig{Offset: 1.88, DriveCANID: 1, SteerCANID: 5, EncoderPort: 1},
		FrontRight: ModuleConfig{Offset: 2.35, DriveCANID: 2, SteerCANID: 6, EncoderPort: 0},
		BackLeft: ModuleConfig{Offset: 3.39, DriveCANID: 3, SteerCANID: 7, EncoderPort: 3,
			SteerPID: &pid.Gains{P: 0.3, D: 0.005}},
		BackRight: ModuleConfig{Offset: 1.12, DriveCANID: 4, SteerCANID: 8, EncoderPort: 2},

		Hardware: HardwareConfig{
			CANInterface:      "can0",
			MotorCountsPerRev: 42,
			GyroDevice:        "/dev/ttyS0",
			EncoderType:       EncoderAS5600,
			I2CDevice:         "/dev/i2c-1",
			MuxAddr:           0x70,
			SPIBus:            "/dev/spidev0",
			PowerSensorAddr:   0x40,
		},
	}
}

// Load reads a YAML config over the defaults, so the file only needs to name
// what differs.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Save writes out the config in use, for reference alongside the logs.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(&c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	return errors.Wrapf(ioutil.WriteFile(path, data, 0666), "failed to write %s", path)
}

func (c Config) Validate() error {
	if c.Period <= 0 {
		return errors.Errorf("period must be positive, not %v", c.Period)
	}
	for name, v := range map[string]float64{
		"track_width":          c.TrackWidth,
		"wheel_base":           c.WheelBase,
		"max_drive_speed":      c.MaxDriveSpeed,
		"max_rotate_speed":     c.MaxRotateSpeed,
		"path_max_speed":       c.PathMaxSpeed,
		"slow_drive_speed":     c.SlowDriveSpeed,
		"motor_counts_per_rev": c.Hardware.MotorCountsPerRev,
	} {
		if !(v > 0) || math.IsInf(v, 0) {
			return errors.Errorf("%s must be positive, not %v", name, v)
		}
	}
	if c.SlowModeScale <= 0 || c.SlowModeScale > 1 {
		return errors.Errorf("slow_mode_scale must be in (0, 1], not %v", c.SlowModeScale)
	}
	if c.SlewRate < 0 {
		return errors.Errorf("slew_rate can't be negative (%v)", c.SlewRate)
	}
	if c.GyroSettle < 0 {
		return errors.Errorf("gyro_settle can't be negative (%v)", c.GyroSettle)
	}
	if c.Alliance != AllianceBlue && c.Alliance != AllianceRed {
		return errors.Errorf("alliance must be %q or %q, not %q", AllianceBlue, AllianceRed, c.Alliance)
	}
	switch c.Hardware.EncoderType {
	case EncoderAS5600, EncoderAS5048:
	default:
		return errors.Errorf("unknown encoder_type %q", c.Hardware.EncoderType)
	}
	if _, err := kinematics.New(c.Offsets()); err != nil {
		return err
	}
	for i := 0; i < kinematics.NumModules; i++ {
		if err := c.Module(i).Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Offsets returns the wheel positions relative to the chassis centre, X
// forward and Y left, in module order.
func (c Config) Offsets() [kinematics.NumModules]r2.Point {
	x, y := c.WheelBase/2, c.TrackWidth/2
	return [kinematics.NumModules]r2.Point{
		kinematics.FrontLeft:  {X: x, Y: y},
		kinematics.FrontRight: {X: x, Y: -y},
		kinematics.BackLeft:   {X: -x, Y: y},
		kinematics.BackRight:  {X: -x, Y: -y},
	}
}

func (c Config) Corner(i int) ModuleConfig {
	return [kinematics.NumModules]ModuleConfig{c.FrontLeft, c.FrontRight, c.BackLeft, c.BackRight}[i]
}

// Module builds the wheel module config for corner i.
func (c Config) Module(i int) swervemodule.Config {
	corner := c.Corner(i)
	steerPID := c.SteerPID
	if corner.SteerPID != nil {
		steerPID = *corner.SteerPID
	}
	return swervemodule.Config{
		Name:           kinematics.ModuleNames[i],
		DriveGearRatio: c.DriveGearRatio,
		SteerGearRatio: c.SteerGearRatio,
		WheelDiameter:  c.WheelDiameter,
		Offset:         corner.Offset,
		DriveInverted:  corner.DriveInverted,
		SteerInverted:  corner.SteerInverted,
		SteerPID:       steerPID,
		DrivePID:       c.DrivePID,
		MaxSpeed:       c.MaxDriveSpeed,
		Period:         c.Period,
	}
}

// AmpHeading is the heading, in degrees, that faces the amp for our
// alliance.
func (c Config) AmpHeading() float64 {
	if c.Alliance == AllianceRed {
		return 90
	}
	return -90
}

func (c Config) String() string {
	return fmt.Sprintf("%.2fx%.2fm chassis, %v period, %s alliance",
		c.WheelBase, c.TrackWidth, c.Period, c.Alliance)
}
