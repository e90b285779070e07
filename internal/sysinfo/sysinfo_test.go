package sysinfo

import "testing"

func TestCPUPercentFirstSampleReportsZero(t *testing.T) {
	t.Parallel()

	pct, reset := cpuPercent(0, 0, 1000, 900, false)
	if pct != 0 || reset {
		t.Errorf("cpuPercent first sample = (%v, %v), want (0, false)", pct, reset)
	}
}

func TestCPUPercentComputesBusyFraction(t *testing.T) {
	t.Parallel()

	// prev: total=1000 idle=900; now: total=2000 idle=1200
	// totalDiff=1000 idleDiff=300 busyDiff=700 -> 70%
	pct, reset := cpuPercent(1000, 900, 2000, 1200, true)
	if reset {
		t.Fatal("unexpected reset")
	}
	if pct != 70 {
		t.Errorf("cpuPercent = %v, want 70", pct)
	}
}

func TestCPUPercentNoChangeReportsZero(t *testing.T) {
	t.Parallel()

	pct, reset := cpuPercent(1000, 900, 1000, 900, true)
	if reset {
		t.Fatal("unexpected reset")
	}
	if pct != 0 {
		t.Errorf("cpuPercent = %v, want 0", pct)
	}
}

func TestCPUPercentWraparoundResets(t *testing.T) {
	t.Parallel()

	pct, reset := cpuPercent(5000, 4000, 100, 50, true)
	if !reset {
		t.Fatal("expected reset on wraparound")
	}
	if pct != -1 {
		t.Errorf("cpuPercent = %v, want -1", pct)
	}
}

func TestRAMPercentComputesUsedAndPercent(t *testing.T) {
	t.Parallel()

	used, total, pct, ok := ramPercent(8_000_000, 2_000_000)
	if !ok {
		t.Fatal("ramPercent returned ok=false")
	}
	if total != 8_000_000 {
		t.Errorf("total = %d, want 8000000", total)
	}
	if used != 6_000_000 {
		t.Errorf("used = %d, want 6000000", used)
	}
	if pct != 75 {
		t.Errorf("pct = %v, want 75", pct)
	}
}

func TestRAMPercentZeroTotalNotOK(t *testing.T) {
	t.Parallel()

	_, _, _, ok := ramPercent(0, 0)
	if ok {
		t.Error("ramPercent with zero total should return ok=false")
	}
}

func TestRAMPercentClampsAvailableAboveTotal(t *testing.T) {
	t.Parallel()

	used, total, pct, ok := ramPercent(1000, 5000)
	if !ok {
		t.Fatal("ramPercent returned ok=false")
	}
	if used != 0 || total != 1000 || pct != 0 {
		t.Errorf("got (used=%d total=%d pct=%v), want (0, 1000, 0)", used, total, pct)
	}
}
