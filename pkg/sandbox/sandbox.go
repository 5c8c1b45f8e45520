// Package sandbox executes Code-Act JavaScript emitted by the LLM inside
// an embedded interpreter with hard ceilings on time, stack, memory and
// host-call volume. One Sandbox instance runs one script and is then dead.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/mama-os/mama/pkg/logger"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxHostCalls = 50
	// goja limits call stack depth in frames rather than bytes; 4096
	// frames approximates the 512 KiB budget of the previous runtime.
	defaultMaxStack  = 4096
	defaultMaxMemory = 32 * 1024 * 1024

	maxConsoleLines = 256
	maxConsoleBytes = 16 * 1024

	memorySampleInterval = 50 * time.Millisecond
)

// Interrupt reasons surfaced in Result.Err.
const (
	reasonTimeout = "execution timed out"
	reasonMemory  = "memory limit exceeded"
	reasonCancel  = "execution cancelled"
)

type Config struct {
	Timeout      time.Duration
	MaxHostCalls int
	// MaxStack is the script call stack depth limit in frames.
	MaxStack  int
	MaxMemory uint64
}

func DefaultConfig() Config {
	return Config{
		Timeout:      defaultTimeout,
		MaxHostCalls: defaultMaxHostCalls,
		MaxStack:     defaultMaxStack,
		MaxMemory:    defaultMaxMemory,
	}
}

// Result is the outcome of one script run. Value is plain Go data (maps,
// slices, primitives) safe to serialize back to the LLM.
type Result struct {
	Value     any
	Console   []string
	HostCalls int
	Duration  time.Duration
	Err       error
}

// Sandbox wraps one goja runtime. Execute may be called once; the VM is
// disposed on every exit path.
type Sandbox struct {
	cfg    Config
	bridge *HostBridge

	mu        sync.Mutex
	vm        *goja.Runtime
	runCtx    context.Context
	console   []string
	consoleSz int
	hostCalls int
	disposed  bool
}

func New(cfg Config, bridge *HostBridge) *Sandbox {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxHostCalls <= 0 {
		cfg.MaxHostCalls = defaultMaxHostCalls
	}
	if cfg.MaxStack <= 0 {
		cfg.MaxStack = defaultMaxStack
	}
	if cfg.MaxMemory == 0 {
		cfg.MaxMemory = defaultMaxMemory
	}
	return &Sandbox{cfg: cfg, bridge: bridge}
}

// Execute runs code to completion or interruption and returns the
// marshalled result. The VM never survives this call.
func (s *Sandbox) Execute(ctx context.Context, code string) *Result {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return &Result{Err: errors.New("sandbox already disposed")}
	}
	vm := goja.New()
	vm.SetMaxCallStackSize(s.cfg.MaxStack)
	s.vm = vm
	s.mu.Unlock()

	defer s.dispose()

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	s.mu.Lock()
	s.runCtx = runCtx
	s.mu.Unlock()

	s.installConsole(vm)
	if s.bridge != nil {
		if err := s.bridge.install(vm, s); err != nil {
			return s.result(nil, fmt.Errorf("installing host bridge: %w", err))
		}
	}

	watchdogDone := make(chan struct{})
	go s.watchdog(runCtx, vm, watchdogDone)

	start := time.Now()
	value, err := vm.RunString(code)
	cancel()
	<-watchdogDone
	duration := time.Since(start)

	if err != nil {
		res := s.result(nil, normalizeError(err, runCtx, ctx))
		res.Duration = duration
		return res
	}

	// Async code evaluates to a Promise. The run loop has drained by now,
	// so the promise is settled: surface its value or rejection directly.
	if p, ok := asPromise(value); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			value = p.Result()
		case goja.PromiseStateRejected:
			res := s.result(nil, rejectionError(p.Result()))
			res.Duration = duration
			return res
		default:
			res := s.result(nil, errors.New("script returned a promise that never settles"))
			res.Duration = duration
			return res
		}
	}

	res := s.result(Marshal(value), nil)
	res.Duration = duration
	return res
}

func asPromise(v goja.Value) (*goja.Promise, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	p, ok := obj.Export().(*goja.Promise)
	return p, ok
}

func rejectionError(reason goja.Value) error {
	return fmt.Errorf("script error: %s", rejectionMessage(reason))
}

// watchdog interrupts the VM on deadline, cancellation or memory growth
// past the ceiling. The memory check samples heap use against a baseline,
// so the ceiling is approximate.
func (s *Sandbox) watchdog(ctx context.Context, vm *goja.Runtime, done chan<- struct{}) {
	defer close(done)

	var baseline runtime.MemStats
	runtime.ReadMemStats(&baseline)

	ticker := time.NewTicker(memorySampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				vm.Interrupt(reasonTimeout)
			} else {
				vm.Interrupt(reasonCancel)
			}
			return
		case <-ticker.C:
			var now runtime.MemStats
			runtime.ReadMemStats(&now)
			if now.HeapAlloc > baseline.HeapAlloc &&
				now.HeapAlloc-baseline.HeapAlloc > s.cfg.MaxMemory {
				logger.WarnCF("sandbox", "Script exceeded memory ceiling", map[string]any{
					"growth_bytes": now.HeapAlloc - baseline.HeapAlloc,
					"limit_bytes":  s.cfg.MaxMemory,
				})
				vm.Interrupt(reasonMemory)
				return
			}
		}
	}
}

func (s *Sandbox) installConsole(vm *goja.Runtime) {
	log := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, consoleFormat(arg))
		}
		s.appendConsole(strings.Join(parts, " "))
		return goja.Undefined()
	}
	console := vm.NewObject()
	_ = console.Set("log", log)
	_ = console.Set("warn", log)
	_ = console.Set("error", log)
	_ = vm.Set("console", console)
}

func consoleFormat(v goja.Value) string {
	exported := Marshal(v)
	if s, ok := exported.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", exported)
}

func (s *Sandbox) appendConsole(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.console) >= maxConsoleLines || s.consoleSz >= maxConsoleBytes {
		return
	}
	if len(line) > maxConsoleBytes-s.consoleSz {
		line = line[:maxConsoleBytes-s.consoleSz]
	}
	s.console = append(s.console, line)
	s.consoleSz += len(line)
}

// countHostCall bumps the per-run counter, returning false once the
// ceiling is reached.
func (s *Sandbox) countHostCall() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hostCalls >= s.cfg.MaxHostCalls {
		return false
	}
	s.hostCalls++
	return true
}

// callContext is the context host-bridge calls run under.
func (s *Sandbox) callContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}

func (s *Sandbox) result(value any, err error) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	console := make([]string, len(s.console))
	copy(console, s.console)
	return &Result{Value: value, Console: console, HostCalls: s.hostCalls, Err: err}
}

func (s *Sandbox) dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vm != nil {
		s.vm.ClearInterrupt()
		s.vm = nil
	}
	s.disposed = true
}

func normalizeError(err error, runCtx, parent context.Context) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if reason, ok := interrupted.Value().(string); ok {
			return errors.New(reason)
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
			return errors.New(reasonTimeout)
		}
		return errors.New(reasonCancel)
	}
	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		return errors.New("stack limit exceeded")
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return fmt.Errorf("script error: %s", exception.Error())
	}
	return err
}
