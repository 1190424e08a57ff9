package model

// VCPU is one virtual CPU as reported by the VM's management interface.
type VCPU struct {
	Index    int    `json:"cpu_index"`
	ThreadID int    `json:"thread_id"`
	QOMPath  string `json:"qom_path,omitempty"`
	Target   string `json:"target,omitempty"`
}

// ThreadIDs returns the backing OS thread ids in vCPU order.
func ThreadIDs(vcpus []VCPU) []int {
	out := make([]int, 0, len(vcpus))
	for _, v := range vcpus {
		out = append(out, v.ThreadID)
	}
	return out
}
