package vm

import "fmt"

// Limits bounds one execution. Every cap is enforced by the Machine except
// MaxSource, which callers check before compiling; none is advisory.
type Limits struct {
	// MaxCycles is the instruction budget. Exhausting it is not a fault: the
	// run ends with a diagnostic line in the output.
	MaxCycles int64 `toml:"max_cycles"`

	// InitialMemory is the size of the memory slice at load time. Memory
	// grows on demand up to MaxMemory.
	InitialMemory int `toml:"initial_memory"`
	MaxMemory     int `toml:"max_memory"`

	// FrameBytes is the size of the frame region between the data segment
	// and the heap. ENTER reserves local storage from it.
	FrameBytes int `toml:"frame_bytes"`

	MaxCallDepth int `toml:"max_call_depth"`
	MaxStack     int `toml:"max_stack"`
	MaxOutput    int `toml:"max_output"`

	// CancelCheckInterval is how many instructions Run executes between
	// polls of its context.
	CancelCheckInterval int `toml:"cancel_check_interval"`

	// MaxSource caps the length of program text handed to the compiler.
	MaxSource int `toml:"max_source"`
}

// DefaultLimits returns the limits used when nothing else is configured.
func DefaultLimits() Limits {
	return Limits{
		MaxCycles:           10_000_000,
		InitialMemory:       64 << 10,
		MaxMemory:           16 << 20,
		FrameBytes:          256 << 10,
		MaxCallDepth:        1024,
		MaxStack:            64 << 10,
		MaxOutput:           1 << 20,
		CancelCheckInterval: 4096,
		MaxSource:           1 << 20,
	}
}

// Validate reports the first inconsistent field.
func (l Limits) Validate() error {
	switch {
	case l.MaxCycles <= 0:
		return fmt.Errorf("max_cycles must be positive, got %d", l.MaxCycles)
	case l.InitialMemory < 0:
		return fmt.Errorf("initial_memory must not be negative, got %d", l.InitialMemory)
	case l.MaxMemory <= 0:
		return fmt.Errorf("max_memory must be positive, got %d", l.MaxMemory)
	case l.InitialMemory > l.MaxMemory:
		return fmt.Errorf("initial_memory (%d) exceeds max_memory (%d)", l.InitialMemory, l.MaxMemory)
	case l.FrameBytes <= 0 || l.FrameBytes >= l.MaxMemory:
		return fmt.Errorf("frame_bytes must be in (0, max_memory), got %d", l.FrameBytes)
	case l.MaxCallDepth <= 0:
		return fmt.Errorf("max_call_depth must be positive, got %d", l.MaxCallDepth)
	case l.MaxStack <= 0:
		return fmt.Errorf("max_stack must be positive, got %d", l.MaxStack)
	case l.MaxOutput <= 0:
		return fmt.Errorf("max_output must be positive, got %d", l.MaxOutput)
	case l.CancelCheckInterval <= 0:
		return fmt.Errorf("cancel_check_interval must be positive, got %d", l.CancelCheckInterval)
	case l.MaxSource <= 0:
		return fmt.Errorf("max_source must be positive, got %d", l.MaxSource)
	}
	return nil
}
