// Package scheduler picks a concurrency strategy for a batch and runs
// per-item work on a bounded pool shared across requests.
package scheduler

type Mode int

const (
	// Serial runs items one after another on the calling goroutine.
	Serial Mode = iota
	// ThreadPool suits latency-bound work such as remote model calls.
	ThreadPool
	// ProcessPool suits CPU-bound work such as local image preprocessing
	// and recognition. Workers are goroutines capped at the CPU count.
	ProcessPool
)

func (m Mode) String() string {
	switch m {
	case Serial:
		return "serial"
	case ThreadPool:
		return "thread-pool"
	case ProcessPool:
		return "process-pool"
	default:
		return "unknown"
	}
}

// Strategy is the chosen mode and the number of workers to run with.
type Strategy struct {
	Mode    Mode
	Workers int
}

// Plan chooses a strategy for n items on a host with cpus CPUs. The result
// depends only on its arguments.
//
//	n == 1      serial
//	2 <= n <= 4 thread pool of min(n, 2*cpus), or min(n, 3*cpus) when fast
//	n > 4       process pool of min(n, cpus)
func Plan(n, cpus int, fast bool) Strategy {
	if cpus < 1 {
		cpus = 1
	}
	switch {
	case n <= 0:
		return Strategy{Mode: Serial, Workers: 0}
	case n == 1:
		return Strategy{Mode: Serial, Workers: 1}
	case n <= 4:
		factor := 2
		if fast {
			factor = 3
		}
		return Strategy{Mode: ThreadPool, Workers: min(n, factor*cpus)}
	default:
		return Strategy{Mode: ProcessPool, Workers: min(n, cpus)}
	}
}
