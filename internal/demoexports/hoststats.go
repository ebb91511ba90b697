// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package demoexports holds the sample exportable objects used by the
// remoting-agent/remoting-controller demo embedders: a host-stats
// callable, two exportable pipe sinks (compressing, S3-backed), and a
// sender-side rate-limited wrapper around a channel's remote writer.
package demoexports

import (
	"encoding/json"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats is the JSON payload returned by HostStatsProbe.Collect.
type HostStats struct {
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryPercent    float64 `json:"memory_percent"`
	DiskUsagePercent float64 `json:"disk_usage_percent"`
	LoadAverage1m    float64 `json:"load_average_1m"`
}

// HostStatsProbe is a callable an agent exports so the controller can
// poll the agent's resource usage over the channel.
type HostStatsProbe struct {
	// MountPoint is the filesystem path disk usage is sampled from.
	MountPoint string
}

// NewHostStatsProbe returns a probe sampling disk usage from mountPoint
// ("/" if empty).
func NewHostStatsProbe(mountPoint string) *HostStatsProbe {
	if mountPoint == "" {
		mountPoint = "/"
	}
	return &HostStatsProbe{MountPoint: mountPoint}
}

// Collect samples current host stats and returns them JSON-encoded,
// ready to hand back as a UserResponse's serialized result.
func (p *HostStatsProbe) Collect() ([]byte, error) {
	var stats HostStats

	if percentage, err := cpu.Percent(0, false); err == nil && len(percentage) > 0 {
		stats.CPUPercent = percentage[0]
	}
	if v, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = v.UsedPercent
	}
	if d, err := disk.Usage(p.MountPoint); err == nil {
		stats.DiskUsagePercent = d.UsedPercent
	}
	if l, err := load.Avg(); err == nil {
		stats.LoadAverage1m = l.Load1
	}

	encoded, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("demoexports: encoding host stats: %w", err)
	}
	return encoded, nil
}
