// Package engine runs the acquisition loop: one request to the BMS per
// cycle, validated answers into the store, and a snapshot published
// whenever the visible state changes.
package engine

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/elithion/lithiumate-dash/internal/bms"
	"github.com/elithion/lithiumate-dash/internal/control"
	"github.com/elithion/lithiumate-dash/internal/identity"
)

// Link is the serial connection to the BMS. Send and Receive close the link
// themselves on failure.
type Link interface {
	IsOpen() bool
	Open() error
	Send(code bms.RequestCode) error
	Receive() ([]byte, error)
}

// Publisher makes a store state visible to the display front end.
type Publisher interface {
	Publish(st bms.State) (int, error)
}

// FlagReader reads externally owned control flags.
type FlagReader interface {
	Enabled(key string) bool
}

// Forwarder sends the state to the remote collector.
type Forwarder interface {
	Forward(ctx context.Context, st bms.State) error
}

// Recorder logs validated frames. The engine switches it on and off.
type Recorder interface {
	Record(code bms.RequestCode, payload string, power bms.PowerStatus)
	SetEnabled(on bool)
	IsEnabled() bool
}

// Observer is told about every successful publish. It runs on the loop's
// goroutine and must not block.
type Observer interface {
	Observe(u Update)
}

// Registry checks the hardware serial against the installation.
type Registry interface {
	Check(serial string) error
}

// Update describes one published snapshot.
type Update struct {
	State   bms.State
	Counter int
	Stats   Stats
	At      time.Time
}

// Stats counts loop outcomes since start.
type Stats struct {
	Cycles          uint64 `json:"cycles"`
	Frames          uint64 `json:"frames"`
	Rejected        uint64 `json:"rejected"`
	NoResponse      uint64 `json:"noResponse"`
	TransportErrors uint64 `json:"transportErrors"`
	Forwarded       uint64 `json:"forwarded"`
}

// Config holds the loop timing and options.
type Config struct {
	RequestDelay time.Duration // BMS turnaround between request and read
	ReopenDelay  time.Duration // back-off after a failed open
	ForwardKey   string        // control flag gating the forwarder
	RecordKey    string        // control flag switching the recorder on
	RecordAlways bool          // recorder stays on regardless of the flag
	Verbose      bool
}

// Deps are the collaborators of the loop. Link and Publisher are required.
type Deps struct {
	Link      Link
	Publisher Publisher
	Flags     FlagReader
	Forwarder Forwarder
	Recorder  Recorder
	Observer  Observer
}

// Engine owns all mutable acquisition state. It is driven by a single
// goroutine.
type Engine struct {
	cfg  Config
	deps Deps

	store         *bms.Store
	cycle         bms.CycleState
	displaySerial string
	stats         Stats

	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

// New returns an engine with an empty store.
func New(cfg Config, deps Deps) *Engine {
	if cfg.RequestDelay < 0 {
		cfg.RequestDelay = 0
	}
	if cfg.ReopenDelay < 0 {
		cfg.ReopenDelay = 0
	}
	if cfg.ForwardKey == "" {
		cfg.ForwardKey = control.RemoteForwardKey
	}
	if cfg.RecordKey == "" {
		cfg.RecordKey = control.RecordKey
	}
	return &Engine{
		cfg:   cfg,
		deps:  deps,
		store: bms.NewStore(),
		cycle: bms.NewCycleState(),
		sleep: sleepCtx,
		now:   time.Now,
	}
}

// State returns the current store contents.
func (e *Engine) State() bms.State { return e.store.State() }

// Stats returns the loop counters.
func (e *Engine) Stats() Stats { return e.stats }

// ValidateInstall checks serial against the registry. On a mismatch the
// snapshot is published with the bootleg-copy status and the error
// (matching identity.ErrMismatch) is returned; the loop must not be started.
func (e *Engine) ValidateInstall(reg Registry, serial string) error {
	if err := reg.Check(serial); err != nil {
		if errors.Is(err, identity.ErrMismatch) {
			log.Printf("[engine] bootleg copy: %v", err)
			e.store.SetPower(bms.PowerBootlegCopy)
			e.publish()
		}
		return err
	}
	e.displaySerial = strings.ToUpper(serial)
	return nil
}

// Run polls until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	log.Printf("[engine] polling (request delay %v)", e.cfg.RequestDelay)
	for {
		if err := ctx.Err(); err != nil {
			log.Printf("[engine] stopped after %d cycles", e.stats.Cycles)
			return nil
		}
		e.step(ctx)
	}
}

// step runs one cycle: open if needed, request, wait, read, parse, forward.
func (e *Engine) step(ctx context.Context) {
	e.stats.Cycles++

	if !e.deps.Link.IsOpen() {
		if err := e.deps.Link.Open(); err != nil {
			if e.store.Power() != bms.PowerUsbDisconnected {
				log.Printf("[engine] USB link down: %v", err)
			}
			e.stats.TransportErrors++
			e.store.Clear()
			e.store.SetPower(bms.PowerUsbDisconnected)
			e.publish()
			e.sleep(ctx, e.cfg.ReopenDelay)
		}
	}

	code, next := bms.SelectNextCode(e.store, e.cycle)
	e.cycle = next

	if e.deps.Link.IsOpen() {
		if err := e.deps.Link.Send(code); err != nil {
			e.stats.TransportErrors++
			log.Printf("[engine] request %q: %v", code.String(), err)
		}
	}

	e.sleep(ctx, e.cfg.RequestDelay)

	e.store.Set(bms.CodeDisplaySerial, e.displaySerial)

	if e.deps.Link.IsOpen() {
		buf, err := e.deps.Link.Receive()
		if err != nil {
			e.stats.TransportErrors++
			log.Printf("[engine] response %q: %v", code.String(), err)
		} else {
			e.handleResponse(code, buf)
		}
	}

	e.maybeForward(ctx)
	e.syncRecorder()
}

func (e *Engine) handleResponse(code bms.RequestCode, buf []byte) {
	payload, err := bms.ParseFrame(buf, code)
	if errors.Is(err, bms.ErrNoResponse) {
		e.stats.NoResponse++
		if e.store.Power() != bms.PowerOff {
			log.Printf("[engine] BMS not responding, reporting power off")
		}
		e.store.Clear()
		e.store.SetPower(bms.PowerOff)
		e.publish()
		return
	}

	if e.store.Power() != bms.PowerOn {
		log.Printf("[engine] BMS responding")
	}
	e.store.SetPower(bms.PowerOn)

	if err != nil {
		e.stats.Rejected++
		if e.cfg.Verbose {
			log.Printf("[engine] discarded: %v", err)
		}
		return
	}

	e.stats.Frames++
	e.store.Set(code, payload)
	e.publish()
	if e.deps.Recorder != nil {
		e.deps.Recorder.Record(code, payload, bms.PowerOn)
	}
}

func (e *Engine) maybeForward(ctx context.Context) {
	if e.deps.Flags == nil || e.deps.Forwarder == nil {
		return
	}
	if !e.deps.Flags.Enabled(e.cfg.ForwardKey) {
		return
	}
	if err := e.deps.Forwarder.Forward(ctx, e.store.State()); err != nil {
		log.Printf("[engine] forward: %v", err)
		return
	}
	e.stats.Forwarded++
}

// syncRecorder follows the record flag, or keeps the recorder on when
// RecordAlways is set.
func (e *Engine) syncRecorder() {
	if e.deps.Recorder == nil {
		return
	}
	want := e.cfg.RecordAlways
	if !want && e.deps.Flags != nil {
		want = e.deps.Flags.Enabled(e.cfg.RecordKey)
	}
	if want == e.deps.Recorder.IsEnabled() {
		return
	}
	log.Printf("[engine] frame recorder enabled=%v", want)
	e.deps.Recorder.SetEnabled(want)
}

func (e *Engine) publish() {
	st := e.store.State()
	counter, err := e.deps.Publisher.Publish(st)
	if err != nil {
		return
	}
	if e.deps.Observer != nil {
		e.deps.Observer.Observe(Update{State: st, Counter: counter, Stats: e.stats, At: e.now()})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
