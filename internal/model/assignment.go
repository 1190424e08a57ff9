package model

// Assignment pins the thread backing vCPU VCPU to a single host CPU.
type Assignment struct {
	VCPU     int `json:"vcpu"`
	ThreadID int `json:"thread_id"`
	CPU      int `json:"cpu"`
}
