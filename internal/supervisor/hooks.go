package supervisor

import (
	"log/slog"
	"sync"

	"github.com/scarson/poolmaster/internal/queuegroup"
)

// AfterPreforkContext is passed to every registered AfterPreforkHook. It
// describes the freshly spawned child from the child's own point of
// view — the `work` subcommand calls RunAfterPrefork with this before
// entering the worker kind's blocking loop (spec.md §4.4 "run registered
// pre-execution hooks with the worker handle").
type AfterPreforkContext struct {
	Pid        int
	QueueGroup queuegroup.QueueGroup
}

// PollHook is invoked once per master loop iteration (spec.md §6
// "poll(master)"). A non-nil error is logged, never fatal.
type PollHook func(m *Master) error

// AfterPreforkHook is invoked inside a freshly spawned child, before it
// begins work (spec.md §6 "after_prefork(worker)"). Because spawn is
// translated to exec rather than fork (§13), the hook cannot run inside
// the master's Spawn call — it runs instead at the very start of the
// `work` subcommand, which is why Hooks is a value shared identically
// between `poolmaster master` and `poolmaster work`: both invocations
// are the same binary registering the same hooks at startup.
type AfterPreforkHook func(AfterPreforkContext) error

// Hooks is the process-wide (per spec.md §9, "avoid hidden singletons" —
// modeled here as an explicit value rather than package state) registry
// of poll and after-prefork hooks. Populate it once during program
// startup, before either the master or work code paths run, then treat
// it as frozen.
type Hooks struct {
	mu           sync.Mutex
	poll         []PollHook
	afterPrefork []AfterPreforkHook
}

// NewHooks returns an empty Hooks registry.
func NewHooks() *Hooks {
	return &Hooks{}
}

// RegisterPoll appends fn to the poll hook sequence.
func (h *Hooks) RegisterPoll(fn PollHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.poll = append(h.poll, fn)
}

// RegisterAfterPrefork appends fn to the after-prefork hook sequence.
func (h *Hooks) RegisterAfterPrefork(fn AfterPreforkHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.afterPrefork = append(h.afterPrefork, fn)
}

func (h *Hooks) runPoll(m *Master) {
	h.mu.Lock()
	hooks := append([]PollHook(nil), h.poll...)
	h.mu.Unlock()

	for _, fn := range hooks {
		if err := fn(m); err != nil {
			slog.Error("poll hook failed", "error", err)
		}
	}
}

// RunAfterPrefork runs every registered AfterPreforkHook against ctx,
// logging (not propagating) individual failures — a crash inside a hook
// must not prevent the child from at least attempting to start working
// (spec.md §7: "a failing ... after-prefork hook is reported but does
// not kill the master"; here it must not kill the child either).
func (h *Hooks) RunAfterPrefork(ctx AfterPreforkContext) {
	h.mu.Lock()
	hooks := append([]AfterPreforkHook(nil), h.afterPrefork...)
	h.mu.Unlock()

	for _, fn := range hooks {
		if err := fn(ctx); err != nil {
			slog.Error("after_prefork hook failed", "pid", ctx.Pid, "queue_group", string(ctx.QueueGroup), "error", err)
		}
	}
}
