//go:build linux

package system

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
	"k8s.io/utils/cpuset"
)

// maxCPUs is CPU_SETSIZE for the mask passed to sched_setaffinity.
const maxCPUs = int(unsafe.Sizeof(unix.CPUSet{})) * 8

// Pin restricts thread tid to run only on cpu.
func (ThreadAffinity) Pin(tid, cpu int) error {
	if err := validateTarget(tid, cpu, maxCPUs); err != nil {
		return err
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(tid, &set); err != nil {
		return fmt.Errorf("sched_setaffinity tid %d cpu %d: %w", tid, cpu, err)
	}
	return nil
}

// Get returns the CPUs thread tid is currently allowed to run on.
func (ThreadAffinity) Get(tid int) (cpuset.CPUSet, error) {
	if tid <= 0 {
		return cpuset.CPUSet{}, fmt.Errorf("%w: %d", ErrInvalidThread, tid)
	}
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(tid, &set); err != nil {
		return cpuset.CPUSet{}, fmt.Errorf("sched_getaffinity tid %d: %w", tid, err)
	}
	cpus := make([]int, 0, set.Count())
	for i := 0; i < maxCPUs; i++ {
		if set.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	return cpuset.New(cpus...), nil
}
