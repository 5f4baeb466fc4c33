package tunable

import (
	"math"
	"sync/atomic"

	"github.com/edaniels/golog"
)

// Tunable is a value nudged up and down in fixed steps while the robot is
// running, normally a controller gain.
type Tunable struct {
	Name string
	Step float64

	bits     uint64
	onChange func(float64)
	log      golog.Logger
}

// Add moves the value by steps * Step.  The value never goes negative.
func (t *Tunable) Add(steps int) float64 {
	for {
		old := atomic.LoadUint64(&t.bits)
		newV := math.Max(0, math.Float64frombits(old)+float64(steps)*t.Step)
		if atomic.CompareAndSwapUint64(&t.bits, old, math.Float64bits(newV)) {
			t.log.Infow("tunable changed", "name", t.Name, "value", newV)
			if t.onChange != nil {
				t.onChange(newV)
			}
			return newV
		}
	}
}

func (t *Tunable) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&t.bits))
}

type Tunables struct {
	log      golog.Logger
	All      []*Tunable
	selected int
}

func New(log golog.Logger) *Tunables {
	return &Tunables{log: log}
}

// Create registers a tunable.  onChange, if not nil, is called with each new
// value from whichever goroutine called Add.
func (t *Tunables) Create(name string, value, step float64, onChange func(float64)) *Tunable {
	newTunable := &Tunable{
		Name:     name,
		Step:     step,
		bits:     math.Float64bits(value),
		onChange: onChange,
		log:      t.log,
	}
	t.All = append(t.All, newTunable)
	return newTunable
}

func (t *Tunables) SelectNext() {
	if len(t.All) == 0 {
		return
	}
	t.selected++
	if t.selected >= len(t.All) {
		t.selected = 0
	}
	t.logSelected()
}

func (t *Tunables) SelectPrev() {
	if len(t.All) == 0 {
		return
	}
	t.selected--
	if t.selected < 0 {
		t.selected = len(t.All) - 1
	}
	t.logSelected()
}

// Current is the selected tunable, or nil if none have been created.
func (t *Tunables) Current() *Tunable {
	if len(t.All) == 0 {
		return nil
	}
	return t.All[t.selected]
}

func (t *Tunables) logSelected() {
	c := t.Current()
	t.log.Infow("tunable selected", "name", c.Name, "value", c.Get())
}
