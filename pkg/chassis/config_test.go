package chassis

import (
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tigerbot-team/swervebot/pkg/kinematics"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swervebot.yaml")
	if err := ioutil.WriteFile(path, []byte(contents), 0666); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
}

func TestDefaultFieldOriented(t *testing.T) {
	if !Default().FieldOriented {
		t.Error("expected the default to drive field oriented")
	}
}

func TestDefaultGeometry(t *testing.T) {
	offsets := Default().Offsets()
	if o := offsets[kinematics.FrontLeft]; o.X != 0.3 || o.Y != 0.3 {
		t.Errorf("front-left at %v", o)
	}
	if o := offsets[kinematics.BackRight]; o.X != -0.3 || o.Y != -0.3 {
		t.Errorf("back-right at %v", o)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
period: 10ms
alliance: red
slew_rate: 0
field_oriented: false
front_right:
  offset: 0.5
  drive_inverted: true
  drive_can_id: 12
  steer_can_id: 16
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Period != 10*time.Millisecond {
		t.Errorf("period = %v", cfg.Period)
	}
	if cfg.AmpHeading() != 90 {
		t.Errorf("red alliance amp heading = %v", cfg.AmpHeading())
	}
	if cfg.SlewRate != 0 {
		t.Errorf("slew rate = %v", cfg.SlewRate)
	}
	if cfg.FieldOriented {
		t.Error("field_oriented: false was ignored")
	}
	fr := cfg.Module(kinematics.FrontRight)
	if fr.Offset != 0.5 || !fr.DriveInverted || fr.Period != 10*time.Millisecond {
		t.Errorf("front-right module config = %+v", fr)
	}
	if cfg.TrackWidth != 0.6 {
		t.Errorf("unset track width should keep its default, got %v", cfg.TrackWidth)
	}
}

func TestPerCornerSteerGains(t *testing.T) {
	cfg := Default()
	if p := cfg.Module(kinematics.BackLeft).SteerPID.P; p != 0.3 {
		t.Errorf("back-left steer P = %v, expected its override", p)
	}
	if p := cfg.Module(kinematics.FrontLeft).SteerPID.P; p != cfg.SteerPID.P {
		t.Errorf("front-left steer P = %v, expected the chassis default", p)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	for _, tc := range []struct {
		yaml, errText string
	}{
		{"track_width: 0\n", "track_width"},
		{"period: -5ms\n", "period"},
		{"alliance: green\n", "alliance"},
		{"slow_mode_scale: 2\n", "slow_mode_scale"},
		{"hardware:\n  encoder_type: potentiometer\n", "encoder_type"},
		{"no_such_field: 1\n", "no_such_field"},
	} {
		_, err := Load(writeConfig(t, tc.yaml))
		if err == nil {
			t.Errorf("%q: expected an error", tc.yaml)
			continue
		}
		if !strings.Contains(err.Error(), tc.errText) {
			t.Errorf("%q: error %q doesn't mention %s", tc.yaml, err, tc.errText)
		}
	}
}

func TestSaveThenLoad(t *testing.T) {
	cfg := Default()
	cfg.Alliance = AllianceRed
	cfg.GyroSettle = 1500 * time.Millisecond
	path := filepath.Join(t.TempDir(), "in-use.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Alliance != AllianceRed || loaded.GyroSettle != 1500*time.Millisecond {
		t.Errorf("loaded %v, settle %v", loaded, loaded.GyroSettle)
	}
}
