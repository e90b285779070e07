// Package control implements the gateway's administrative command
// channel: a Unix domain socket accepting short plain-text commands
// ("stats", "status") and replying with a single formatted response,
// the Go port of the reference implementation's cmdif module.
package control

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/dantte-lp/sensorgw/internal/ingress"
	"github.com/dantte-lp/sensorgw/internal/logging"
	"github.com/dantte-lp/sensorgw/internal/sysinfo"
)

// ConnectionsProvider is the subset of *ingress.Manager the control
// channel needs to answer "stats" and "status".
type ConnectionsProvider interface {
	ActiveCount() int
	StatsSnapshot() []ingress.Snapshot
}

// Server is the administrative command channel. It accepts one
// connection at a time; the channel is single-threaded by design, so no
// locking is needed around command dispatch itself.
type Server struct {
	socketPath string
	logger     *logging.Logger
	conns      ConnectionsProvider
	sampler    *sysinfo.Sampler

	listener net.Listener
}

// New constructs a Server. sampler may be nil, in which case "status"
// reports CPU/RAM usage as unavailable.
func New(socketPath string, logger *logging.Logger, conns ConnectionsProvider, sampler *sysinfo.Sampler) *Server {
	return &Server{socketPath: socketPath, logger: logger, conns: conns, sampler: sampler}
}

// Run binds the socket and serves commands sequentially until Stop is
// called, returning nil on an orderly shutdown.
func (s *Server) Run() error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("control: remove stale socket %s: %w", s.socketPath, err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("control: listen on %s: %w", s.socketPath, err)
	}
	s.listener = ln

	s.logger.Log(logging.Info, "command interface listening on %s", s.socketPath)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Log(logging.Error, "cmdif accept() failed: %v", err)
			break
		}

		s.logger.Log(logging.Info, "cmdif received connection")
		s.handle(conn)
		s.logger.Log(logging.Info, "cmdif closed connection")
	}

	s.logger.Log(logging.Info, "command interface thread shutting down.")
	return nil
}

// Stop idempotently closes the listening socket and removes the socket
// file, unblocking Accept and causing Run to return.
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	_ = os.Remove(s.socketPath)
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		s.logger.Log(logging.Info, "cmdif client disconnected without sending command.")
		return
	}

	cmd := strings.TrimSpace(scanner.Text())
	s.logger.Log(logging.Debug, "received command: '%s'", cmd)

	var resp string
	switch cmd {
	case "stats":
		resp = s.statsResponse()
	case "status":
		resp = s.statusResponse()
	default:
		resp = fmt.Sprintf("ERROR: Unknown command '%s'. Use 'stats' or 'status'.\n", cmd)
	}

	if _, err := conn.Write([]byte(resp)); err != nil {
		s.logger.Log(logging.Error, "cmdif write() failed: %v", err)
	}
}

func (s *Server) statsResponse() string {
	snaps := s.conns.StatsSnapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "--- Active Connections (%d) ---\n", len(snaps))

	if len(snaps) == 0 {
		b.WriteString("No active connections.\n")
		return b.String()
	}

	for _, c := range snaps {
		sensorID := c.SensorID
		if !c.IDKnown {
			sensorID = 0
		}
		d := c.Connected
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		secs := int(d.Seconds()) % 60
		fmt.Fprintf(&b, "  Sensor ID: %-5d | IP: %-15s | Port: %-5d | Socket: %-3d | Connected: %02d:%02d:%02d\n",
			sensorID, c.IP, c.Port, c.Order, hours, mins, secs)
	}

	return b.String()
}

func (s *Server) statusResponse() string {
	active := s.conns.ActiveCount()

	cpu, ram, usedKB, totalKB := -1.0, -1.0, int64(-1), int64(-1)
	failed := s.sampler == nil
	if s.sampler != nil {
		st := s.sampler.Sample()
		cpu, ram, usedKB, totalKB = st.CPUUsagePercent, st.RAMUsagePercent, st.RAMUsedKB, st.RAMTotalKB
		failed = cpu < 0 || ram < 0
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- System Status ---\n")
	fmt.Fprintf(&b, "Active Connections: %d\n", active)
	fmt.Fprintf(&b, "CPU Usage: %.2f %%\n", cpu)
	fmt.Fprintf(&b, "RAM Usage: %.2f %% (%d / %d KB used)\n", ram, usedKB, totalKB)
	if failed {
		fmt.Fprintf(&b, "ERROR: Could not retrieve system stats \n")
	}

	return b.String()
}
