package qmp

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"aurora-vcpu-pin/internal/model"
)

func TestDecodeCPUs(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []model.VCPU
		wantErr string
	}{
		{
			name: "fast format",
			raw:  `[{"cpu-index": 0, "thread-id": 111, "target": "x86_64"}, {"cpu-index": 1, "thread-id": 222, "target": "x86_64"}]`,
			want: []model.VCPU{{Index: 0, ThreadID: 111, Target: "x86_64"}, {Index: 1, ThreadID: 222, Target: "x86_64"}},
		},
		{
			name: "ordered by cpu index",
			raw:  `[{"cpu-index": 2, "thread-id": 3}, {"cpu-index": 0, "thread-id": 1}, {"cpu-index": 1, "thread-id": 2}]`,
			want: []model.VCPU{{Index: 0, ThreadID: 1}, {Index: 1, ThreadID: 2}, {Index: 2, ThreadID: 3}},
		},
		{
			name: "index falls back to position",
			raw:  `[{"thread-id": 10}, {"thread-id": 20}]`,
			want: []model.VCPU{{Index: 0, ThreadID: 10}, {Index: 1, ThreadID: 20}},
		},
		{
			name: "empty",
			raw:  `[]`,
			want: []model.VCPU{},
		},
		{
			name:    "missing thread id",
			raw:     `[{"cpu-index": 0, "thread-id": 1}, {"cpu-index": 1}]`,
			wantErr: "vcpu entry 1: missing thread-id",
		},
		{
			name:    "thread id not numeric",
			raw:     `[{"cpu-index": 0, "thread-id": "abc"}]`,
			wantErr: "decode vcpu list",
		},
		{
			name:    "not a list",
			raw:     `{}`,
			wantErr: "decode vcpu list",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCPUs(json.RawMessage(tt.raw))
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeCPUsMissingThreadIDIsSentinel(t *testing.T) {
	_, err := DecodeCPUs(json.RawMessage(`[{"cpu-index": 0, "thread-id": null}]`))
	require.ErrorIs(t, err, ErrMissingThreadID)
}

func TestParseReply(t *testing.T) {
	raw, err := ParseReply([]byte(`{"return":[{"cpu-index":0,"thread-id":5}],"id":"libvirt-12"}`))
	require.NoError(t, err)
	vcpus, err := DecodeCPUs(raw)
	require.NoError(t, err)
	require.Equal(t, []int{5}, model.ThreadIDs(vcpus))

	_, err = ParseReply([]byte(`{"error":{"class":"CommandNotFound","desc":"nope"},"id":"libvirt-13"}`))
	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	require.Equal(t, ErrorClassCommandNotFound, cmdErr.Class)

	_, err = ParseReply([]byte(`{"id":"libvirt-14"}`))
	require.ErrorContains(t, err, "no return value")

	_, err = ParseReply([]byte(`<html>`))
	require.ErrorContains(t, err, "invalid qmp reply")
}
