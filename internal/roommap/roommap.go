// Package roommap loads the static sensor-id-to-room-id mapping file
// consulted by Analytics when logging threshold alerts, and exposes a
// read-only lookup over the result.
package roommap

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Map is an immutable sensor-id -> room-id lookup table.
type Map struct {
	rooms map[uint16]int
}

// Lookup returns the room id associated with sensorID, and whether an
// entry exists. A nil *Map (no map file configured) always misses.
func (m *Map) Lookup(sensorID uint16) (roomID int, ok bool) {
	if m == nil {
		return 0, false
	}
	roomID, ok = m.rooms[sensorID]
	return roomID, ok
}

// Len reports the number of loaded entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rooms)
}

// Warner receives one diagnostic per skipped line; nil is treated as a
// no-op sink.
type Warner func(format string, args ...any)

// Load reads a room/sensor map file from disk and returns a Map.
// The file is a sequence of "<room_id> , <sensor_id>" lines; the comma
// may have any amount of surrounding whitespace on either side. Blank
// lines and lines whose first non-whitespace character is '#' are
// skipped. A line that doesn't parse as two integers, or whose sensor
// id falls outside 0..65535, is skipped and reported to warn rather
// than aborting the load, matching the reference loader's tolerance of
// a partially malformed map file.
func Load(path string, warn Warner) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open room map %s: %w", path, err)
	}
	defer f.Close()

	m, err := parse(f, warn)
	if err != nil {
		return nil, fmt.Errorf("read room map %s: %w", path, err)
	}
	return m, nil
}

func parse(r io.Reader, warn Warner) (*Map, error) {
	if warn == nil {
		warn = func(string, ...any) {}
	}

	m := &Map{rooms: make(map[uint16]int)}

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		roomID, sensorID, ok := parseLine(line)
		if !ok {
			warn("room map: invalid format at line %d: %q", lineNum, line)
			continue
		}
		if sensorID < 0 || sensorID > 0xFFFF {
			warn("room map: sensor id %d out of range at line %d, skipping", sensorID, lineNum)
			continue
		}

		m.rooms[uint16(sensorID)] = roomID
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return m, nil
}

// parseLine accepts "<room>,<sensor>" with optional surrounding
// whitespace around the comma, matching the C loader's "%d , %d"
// sscanf pattern.
func parseLine(line string) (roomID, sensorID int, ok bool) {
	idx := strings.IndexByte(line, ',')
	if idx < 0 {
		return 0, 0, false
	}

	left := strings.TrimSpace(line[:idx])
	right := strings.TrimSpace(line[idx+1:])

	roomID, err := strconv.Atoi(left)
	if err != nil {
		return 0, 0, false
	}
	sensorID, err = strconv.Atoi(right)
	if err != nil {
		return 0, 0, false
	}

	return roomID, sensorID, true
}
