// Package sysinfo samples CPU and RAM utilization from the /proc
// filesystem for the administrative "status" command, the Go port of
// the reference implementation's sysmon module.
package sysinfo

import (
	"fmt"
	"sync"

	"github.com/prometheus/procfs"
)

// Stats is one sample of system utilization. A field is -1 when it could
// not be determined, mirroring the reference implementation's sentinel
// convention for a failed sub-measurement.
type Stats struct {
	CPUUsagePercent float64
	RAMUsagePercent float64
	RAMUsedKB       int64
	RAMTotalKB      int64
}

// Warner receives non-fatal diagnostics from a failed sample.
type Warner func(format string, args ...any)

// Sampler computes CPU usage as a delta between successive /proc/stat
// reads; the first sample always reports 0% while the baseline is
// established.
type Sampler struct {
	fs   procfs.FS
	warn Warner

	mu         sync.Mutex
	prevTotal  float64
	prevIdle   float64
	haveSample bool
}

// New opens the default procfs mount (/proc). warn may be nil.
func New(warn Warner) (*Sampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("sysinfo: open procfs: %w", err)
	}
	if warn == nil {
		warn = func(string, ...any) {}
	}
	return &Sampler{fs: fs, warn: warn}, nil
}

// Sample returns a best-effort snapshot of CPU and RAM usage. Individual
// sub-measurements that fail are reported via warn and left at -1; Sample
// itself never returns an error, matching sysmon_get_stats's "always
// succeeds, fields may be -1" contract.
func (s *Sampler) Sample() Stats {
	stats := Stats{CPUUsagePercent: -1, RAMUsagePercent: -1, RAMUsedKB: -1, RAMTotalKB: -1}

	s.sampleRAM(&stats)
	s.sampleCPU(&stats)

	return stats
}

func (s *Sampler) sampleRAM(stats *Stats) {
	mem, err := s.fs.Meminfo()
	if err != nil {
		s.warn("sysinfo: read meminfo: %v", err)
		return
	}

	total := derefUint64(mem.MemTotal)
	var available uint64
	if mem.MemAvailable != nil {
		available = derefUint64(mem.MemAvailable)
	} else {
		available = derefUint64(mem.MemFree) + derefUint64(mem.Buffers) + derefUint64(mem.Cached)
	}

	usedKB, totalKB, pct, ok := ramPercent(total, available)
	if !ok {
		s.warn("sysinfo: could not calculate RAM usage (total=%d available=%d)", total, available)
		return
	}

	stats.RAMUsedKB = usedKB
	stats.RAMTotalKB = totalKB
	stats.RAMUsagePercent = pct
}

// ramPercent mirrors sysmon.c's RAM usage computation: used = total -
// available, percent = used/total*100. It reports ok=false when total is
// not known to be positive.
func ramPercent(totalKB, availableKB uint64) (usedKB, totalKBOut int64, percent float64, ok bool) {
	if totalKB == 0 {
		return 0, 0, 0, false
	}
	if availableKB > totalKB {
		availableKB = totalKB
	}
	used := totalKB - availableKB
	return int64(used), int64(totalKB), float64(used) / float64(totalKB) * 100.0, true
}

func (s *Sampler) sampleCPU(stats *Stats) {
	st, err := s.fs.Stat()
	if err != nil {
		s.warn("sysinfo: read stat: %v", err)
		return
	}

	cpu := st.CPUTotal
	idle := cpu.Idle + cpu.Iowait
	total := cpu.User + cpu.Nice + cpu.System + cpu.Idle + cpu.Iowait + cpu.IRQ + cpu.SoftIRQ

	s.mu.Lock()
	defer s.mu.Unlock()

	pct, reset := cpuPercent(s.prevTotal, s.prevIdle, total, idle, s.haveSample)
	if reset {
		s.warn("sysinfo: CPU time counter wraparound detected, resetting baseline")
	}

	s.prevTotal = total
	s.prevIdle = idle
	s.haveSample = true

	stats.CPUUsagePercent = pct
}

// cpuPercent computes the busy-time percentage between two /proc/stat
// samples, mirroring sysmon.c's state-based calculation: the first call
// (haveSample == false) establishes the baseline and reports 0%; a
// counter going backwards (wraparound, or the source was reset) is
// reported via reset=true and yields -1.
func cpuPercent(prevTotal, prevIdle, total, idle float64, haveSample bool) (percent float64, reset bool) {
	if !haveSample {
		return 0, false
	}
	if total < prevTotal || idle < prevIdle {
		return -1, true
	}

	totalDiff := total - prevTotal
	idleDiff := idle - prevIdle
	if totalDiff <= 0 {
		return 0, false
	}

	busyDiff := totalDiff - idleDiff
	if busyDiff > totalDiff {
		busyDiff = totalDiff
	}
	return busyDiff / totalDiff * 100.0, false
}

func derefUint64(p *uint64) uint64 {
	if p == nil {
		return 0
	}
	return *p
}
