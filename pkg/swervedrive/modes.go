package swervedrive

import "fmt"

// Mode is a snapshot of the drive mode flags.
type Mode struct {
	FieldOriented bool
	SlowMode      bool
	NinetyLock    bool
	ZeroLock      bool
}

func (m Mode) String() string {
	return fmt.Sprintf("field-oriented=%v slow=%v ninety-lock=%v zero-lock=%v",
		m.FieldOriented, m.SlowMode, m.NinetyLock, m.ZeroLock)
}

// Locked is true if either wheel-lock posture is active.
func (m Mode) Locked() bool {
	return m.NinetyLock || m.ZeroLock
}

const (
	fieldOrientedToggle = iota
	slowModeToggle
	ninetyLockToggle
	zeroLockToggle

	numToggles
)

// toggle binds a button to one mode flag.  onRise runs on press and onFall on
// release; either may be nil.  pressed tracks the button level so a repeated
// level is not treated as a new edge.
type toggle struct {
	name    string
	flag    func(*Mode) *bool
	onRise  func(t *toggle, flag *bool)
	onFall  func(t *toggle, flag *bool)
	pressed bool
	saved   bool
}

func flip(_ *toggle, flag *bool) {
	*flag = !*flag
}

func saveAndSet(t *toggle, flag *bool) {
	t.saved = *flag
	*flag = true
}

func restore(t *toggle, flag *bool) {
	*flag = t.saved
}

func newToggles() [numToggles]toggle {
	return [numToggles]toggle{
		fieldOrientedToggle: {
			name:   "field-oriented",
			flag:   func(m *Mode) *bool { return &m.FieldOriented },
			onRise: flip,
		},
		slowModeToggle: {
			name:   "slow-mode",
			flag:   func(m *Mode) *bool { return &m.SlowMode },
			onRise: flip,
		},
		ninetyLockToggle: {
			name:   "ninety-lock",
			flag:   func(m *Mode) *bool { return &m.NinetyLock },
			onRise: saveAndSet,
			onFall: restore,
		},
		zeroLockToggle: {
			name:   "zero-lock",
			flag:   func(m *Mode) *bool { return &m.ZeroLock },
			onRise: saveAndSet,
			onFall: restore,
		},
	}
}

// ToggleFieldOriented flips field-oriented driving each time the button is
// pressed.
func (s *SwerveDrive) ToggleFieldOriented(pressed bool) {
	s.setButton(fieldOrientedToggle, pressed)
}

// ToggleSlowMode flips slow mode each time the button is pressed.
func (s *SwerveDrive) ToggleSlowMode(pressed bool) {
	s.setButton(slowModeToggle, pressed)
}

// ToggleNinetyLock holds the wheels at 90° while the button is held.
func (s *SwerveDrive) ToggleNinetyLock(pressed bool) {
	s.setButton(ninetyLockToggle, pressed)
}

// ToggleZeroLock holds the wheels at 0° while the button is held.
func (s *SwerveDrive) ToggleZeroLock(pressed bool) {
	s.setButton(zeroLockToggle, pressed)
}

func (s *SwerveDrive) setButton(which int, pressed bool) {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()

	t := &s.toggles[which]
	if t.pressed == pressed {
		return
	}
	t.pressed = pressed

	action := t.onFall
	if pressed {
		action = t.onRise
	}
	if action == nil {
		return
	}
	flag := t.flag(&s.mode)
	before := *flag
	action(t, flag)
	if *flag != before {
		s.log.Infow("drive mode changed", "flag", t.name, "value", *flag)
	}
}

func (s *SwerveDrive) Mode() Mode {
	s.controlLock.Lock()
	defer s.controlLock.Unlock()
	return s.mode
}
