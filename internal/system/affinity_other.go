//go:build !linux

package system

import "k8s.io/utils/cpuset"

const maxCPUs = 1024

func (ThreadAffinity) Pin(tid, cpu int) error {
	if err := validateTarget(tid, cpu, maxCPUs); err != nil {
		return err
	}
	return ErrUnsupported
}

func (ThreadAffinity) Get(tid int) (cpuset.CPUSet, error) {
	return cpuset.CPUSet{}, ErrUnsupported
}
