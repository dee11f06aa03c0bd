// Package chaos injects the two failure modes the protocol is built to
// survive: gremlin latency (forces deadline-exceeded paths) and the
// Schrödinger crash (process exit after commit, before reply).
package chaos

import (
	"math/rand"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"ordercore/internal/config"
)

type Injector struct {
	cfg config.ChaosConfig
	log *zap.SugaredLogger

	// Sleep and Exit are swappable so tests can observe instead of wait
	// or die.
	Sleep func(time.Duration)
	Exit  func(code int)

	mu  sync.Mutex
	rnd *rand.Rand
}

func New(cfg config.ChaosConfig, log *zap.SugaredLogger) *Injector {
	return &Injector{
		cfg:   cfg,
		log:   log,
		Sleep: time.Sleep,
		Exit:  os.Exit,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// GremlinDelay blocks for a random duration in the configured window. The
// handler keeps working through the delay while the caller's deadline
// expires, which is what produces abandoned-but-successful commits.
func (i *Injector) GremlinDelay() {
	if i == nil || !i.cfg.GremlinMode {
		return
	}
	d := i.cfg.GremlinMinDelay
	if span := i.cfg.GremlinMaxDelay - i.cfg.GremlinMinDelay; span > 0 {
		d += time.Duration(i.int63n(int64(span)))
	}
	i.log.Warnw("gremlin delay injected", "delay", d)
	i.Sleep(d)
}

// MaybeCrash terminates the process with the configured probability.
// Call it after a successful commit and before the reply is written.
func (i *Injector) MaybeCrash(site string) {
	if i == nil || !i.cfg.SchrodingerMode {
		return
	}
	if i.float64() >= i.cfg.CrashProbability {
		return
	}
	i.log.Errorw("schrödinger crash injected", "site", site)
	i.Exit(1)
}

func (i *Injector) int63n(n int64) int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rnd.Int63n(n)
}

func (i *Injector) float64() float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rnd.Float64()
}
