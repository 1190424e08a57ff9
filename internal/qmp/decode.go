package qmp

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"aurora-vcpu-pin/internal/model"
)

var ErrMissingThreadID = errors.New("missing thread-id")

// cpuInfo covers both the query-cpus-fast and the legacy query-cpus shapes.
type cpuInfo struct {
	CPUIndex       *int   `json:"cpu-index"`
	LegacyCPU      *int   `json:"CPU"`
	ThreadID       *int   `json:"thread-id"`
	LegacyThreadID *int   `json:"thread_id"`
	QOMPath        string `json:"qom-path"`
	LegacyQOMPath  string `json:"qom_path"`
	Target         string `json:"target"`
	Arch           string `json:"arch"`
}

// DecodeCPUs parses the return value of query-cpus-fast (or query-cpus)
// into vCPU records ordered by cpu index. QEMU already replies in that
// order; the sort only normalises replies that do not.
func DecodeCPUs(raw json.RawMessage) ([]model.VCPU, error) {
	var infos []cpuInfo
	if err := json.Unmarshal(raw, &infos); err != nil {
		return nil, fmt.Errorf("decode vcpu list: %w", err)
	}

	out := make([]model.VCPU, 0, len(infos))
	for i, info := range infos {
		v := model.VCPU{Index: i, QOMPath: info.QOMPath, Target: info.Target}
		switch {
		case info.CPUIndex != nil:
			v.Index = *info.CPUIndex
		case info.LegacyCPU != nil:
			v.Index = *info.LegacyCPU
		}
		switch {
		case info.ThreadID != nil:
			v.ThreadID = *info.ThreadID
		case info.LegacyThreadID != nil:
			v.ThreadID = *info.LegacyThreadID
		default:
			return nil, fmt.Errorf("vcpu entry %d: %w", i, ErrMissingThreadID)
		}
		if v.QOMPath == "" {
			v.QOMPath = info.LegacyQOMPath
		}
		if v.Target == "" {
			v.Target = info.Arch
		}
		out = append(out, v)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Index < out[j].Index
	})
	return out, nil
}

// ParseReply extracts the return value from a complete QMP reply, as
// handed back by libvirt's monitor passthrough.
func ParseReply(raw []byte) (json.RawMessage, error) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid qmp reply: %w", err)
	}
	if msg.Error != nil {
		return nil, msg.Error
	}
	if msg.Return == nil {
		return nil, fmt.Errorf("qmp reply has no return value: %s", truncate(raw))
	}
	return msg.Return, nil
}
