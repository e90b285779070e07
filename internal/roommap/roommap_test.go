package roommap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseBasic(t *testing.T) {
	t.Parallel()

	input := strings.NewReader(strings.Join([]string{
		"# comment line",
		"",
		"101,1",
		"102 , 2",
		"  103  ,  3  ",
		"not a valid line",
		"104,999999",
		"105,4",
	}, "\n"))

	var warnings []string
	m, err := parse(input, func(format string, args ...any) {
		warnings = append(warnings, format)
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if m.Len() != 4 {
		t.Errorf("Len() = %d, want 4", m.Len())
	}

	for sensorID, wantRoom := range map[uint16]int{1: 101, 2: 102, 3: 103, 4: 105} {
		got, ok := m.Lookup(sensorID)
		if !ok {
			t.Errorf("Lookup(%d): not found", sensorID)
			continue
		}
		if got != wantRoom {
			t.Errorf("Lookup(%d) = %d, want %d", sensorID, got, wantRoom)
		}
	}

	if _, ok := m.Lookup(999); ok {
		t.Error("Lookup(999) unexpectedly found")
	}

	if len(warnings) != 2 {
		t.Errorf("got %d warnings, want 2: %v", len(warnings), warnings)
	}
}

func TestLookupOnNilMap(t *testing.T) {
	t.Parallel()

	var m *Map
	if _, ok := m.Lookup(1); ok {
		t.Error("Lookup on nil *Map should miss")
	}
	if m.Len() != 0 {
		t.Error("Len on nil *Map should be 0")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.map"), nil)
	if err == nil {
		t.Fatal("Load of missing file returned nil error")
	}
}

func TestLoadFromDisk(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rooms.map")
	content := "1,10\n2,20\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, ok := m.Lookup(10); !ok || got != 1 {
		t.Errorf("Lookup(10) = (%d, %v), want (1, true)", got, ok)
	}
}
