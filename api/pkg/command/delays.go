package command

import (
	"math/rand"
	"sync"
	"time"
)

// DelayMode selects the inter-operation delay profile for a session.
type DelayMode string

const (
	DelayOff     DelayMode = "off"
	DelayNatural DelayMode = "natural"
	DelayCareful DelayMode = "careful"
)

type delayRange struct {
	before [2]time.Duration
	after  [2]time.Duration
}

var delayTable = map[DelayMode]delayRange{
	DelayNatural: {
		before: [2]time.Duration{50 * time.Millisecond, 200 * time.Millisecond},
		after:  [2]time.Duration{100 * time.Millisecond, 400 * time.Millisecond},
	},
	DelayCareful: {
		before: [2]time.Duration{150 * time.Millisecond, 500 * time.Millisecond},
		after:  [2]time.Duration{300 * time.Millisecond, 900 * time.Millisecond},
	},
}

// Delays applies bounded random pauses around each command, with mild
// fatigue scaling as the action count grows. Opaque to the caller.
type Delays struct {
	mode DelayMode

	mu      sync.Mutex
	actions int
	rng     *rand.Rand
}

func NewDelays(mode DelayMode) *Delays {
	return &Delays{
		mode: mode,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Before pauses ahead of a command.
func (d *Delays) Before() {
	d.sleep(func(r delayRange) [2]time.Duration { return r.before })
}

// After pauses behind a command and counts the completed action.
func (d *Delays) After() {
	if d == nil {
		return
	}
	d.sleep(func(r delayRange) [2]time.Duration { return r.after })
	d.mu.Lock()
	d.actions++
	d.mu.Unlock()
}

func (d *Delays) sleep(pick func(delayRange) [2]time.Duration) {
	if d == nil || d.mode == DelayOff || d.mode == "" {
		return
	}
	r, ok := delayTable[d.mode]
	if !ok {
		return
	}
	bounds := pick(r)

	d.mu.Lock()
	span := bounds[1] - bounds[0]
	dur := bounds[0] + time.Duration(d.rng.Int63n(int64(span)+1))
	dur = time.Duration(float64(dur) * d.fatigueLocked())
	d.mu.Unlock()

	time.Sleep(dur)
}

// fatigueLocked scales delays up as the session performs more actions.
func (d *Delays) fatigueLocked() float64 {
	switch {
	case d.actions > 150:
		return 1.5
	case d.actions > 50:
		return 1.25
	default:
		return 1.0
	}
}
