// Package ingress implements the gateway's TCP front door: one listener
// goroutine plus one goroutine per accepted sensor connection, fanning
// every successfully parsed reading out to the Analytics and Storage
// consumers' buffers.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/dantte-lp/sensorgw/internal/buffer"
	"github.com/dantte-lp/sensorgw/internal/gwmetrics"
	"github.com/dantte-lp/sensorgw/internal/logging"
	"github.com/dantte-lp/sensorgw/internal/sensordata"
)

// Config holds the tunables the original connection manager exposed as
// compile-time macros.
type Config struct {
	ListenAddr          string
	MaxClients          int
	MaxConnectionsPerIP int
	IdleTimeout         time.Duration
}

// ErrAlreadyStopped is returned by Serve if Stop was called before Serve
// installed its listener.
var ErrAlreadyStopped = errors.New("ingress: manager already stopped")

// client is one accepted connection's mutable state, guarded by
// Manager.mu.
type client struct {
	conn        net.Conn
	ip          string
	port        int
	order       int
	sensorID    uint16
	idReceived  bool
	connectedAt time.Time
}

// Snapshot is one row of ingress connection state, returned by
// StatsSnapshot for the control plane's "stats" command. Order is the
// connection's accepted-order index, standing in for the reference
// implementation's raw socket descriptor number (Go does not expose one
// uniformly across platforms).
type Snapshot struct {
	SensorID  uint16
	IDKnown   bool
	IP        string
	Port      int
	Order     int
	Connected time.Duration
}

// Manager owns the listening socket and the table of live client
// connections.
type Manager struct {
	cfg     Config
	logger  *logging.Logger
	metrics *gwmetrics.Collector

	analytics *buffer.Buffer[sensordata.Reading]
	storage   *buffer.Buffer[sensordata.Reading]

	mu        sync.Mutex
	clients   map[net.Conn]*client
	perIPConn map[string]int
	stopped   bool
	nextOrder int

	listener net.Listener
	wg       sync.WaitGroup
}

// New constructs a Manager. analytics and storage are the two
// fan-out destinations every successfully parsed reading is pushed
// into. metrics may be nil.
func New(cfg Config, logger *logging.Logger, metrics *gwmetrics.Collector, analytics, storage *buffer.Buffer[sensordata.Reading]) *Manager {
	return &Manager{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		analytics: analytics,
		storage:   storage,
		clients:   make(map[net.Conn]*client),
		perIPConn: make(map[string]int),
	}
}

// Serve opens the listening socket, wraps it with a MAX_CLIENTS cap, and
// accepts connections until ctx is cancelled or Stop is called. It
// returns nil on an orderly shutdown.
func (m *Manager) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("ingress: listen on %s: %w", m.cfg.ListenAddr, err)
	}

	limited := netutil.LimitListener(ln, m.cfg.MaxClients)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		_ = limited.Close()
		return ErrAlreadyStopped
	}
	m.listener = limited
	m.mu.Unlock()

	m.logger.Log(logging.Info, "ingress listening on %s (max clients %d)", m.cfg.ListenAddr, m.cfg.MaxClients)

	go func() {
		<-ctx.Done()
		m.Stop()
	}()

	for {
		conn, err := limited.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			m.logger.Log(logging.Error, "ingress: accept failed: %v", err)
			continue
		}

		m.handleAccept(ctx, conn)
	}

	m.wg.Wait()
	m.logger.Log(logging.Info, "ingress manager finished cleanup")
	return nil
}

func (m *Manager) handleAccept(ctx context.Context, conn net.Conn) {
	host, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	port := 0
	fmt.Sscanf(portStr, "%d", &port)

	m.mu.Lock()
	if m.cfg.MaxConnectionsPerIP > 0 && m.perIPConn[host] >= m.cfg.MaxConnectionsPerIP {
		m.mu.Unlock()
		m.logger.Log(logging.Warning,
			"connection limit (%d) reached for IP %s. Rejecting new connection", m.cfg.MaxConnectionsPerIP, host)
		_ = conn.Close()
		return
	}

	m.nextOrder++
	c := &client{conn: conn, ip: host, port: port, order: m.nextOrder, connectedAt: time.Now()}
	m.clients[conn] = c
	m.perIPConn[host]++
	m.mu.Unlock()

	m.metrics.IncActiveConnections()
	m.logger.Log(logging.Info, "new connection accepted from %s:%d", host, port)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.serveClient(ctx, c)
	}()
}

func (m *Manager) serveClient(ctx context.Context, c *client) {
	defer m.removeClient(c)

	for {
		if ctx.Err() != nil {
			return
		}

		if m.cfg.IdleTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(m.cfg.IdleTimeout)); err != nil {
				m.logger.Log(logging.Error, "set read deadline for %s:%d: %v", c.ip, c.port, err)
				return
			}
		}

		var frame [sensordata.FrameSize]byte
		n, err := io.ReadFull(c.conn, frame[:])

		switch {
		case err == nil:
			if !m.handleFrame(c, frame[:]) {
				return
			}

		case errors.Is(err, io.EOF):
			if c.idReceived {
				m.logger.Log(logging.Info, "sensor node %d has closed the connection", c.sensorID)
			} else {
				m.logger.Log(logging.Info, "connection closed by client before sending ID (%s:%d)", c.ip, c.port)
			}
			return

		case isTimeout(err):
			if c.idReceived {
				m.logger.Log(logging.Info, "sensor %d timed out. Closing connection.", c.sensorID)
			} else {
				m.logger.Log(logging.Info, "client timed out before sending ID (%s:%d). Closing connection.", c.ip, c.port)
			}
			return

		case errors.Is(err, io.ErrUnexpectedEOF):
			m.logger.Log(logging.Warning,
				"received partial/unexpected data size (%d bytes) from %s:%d. Closing connection.", n, c.ip, c.port)
			return

		default:
			m.logger.Log(logging.Error, "read() failed for %s:%d: %v", c.ip, c.port, err)
			return
		}
	}
}

// handleFrame decodes one frame and fans the reading out. It returns
// false when the frame is malformed and the connection must be closed.
func (m *Manager) handleFrame(c *client, frame []byte) bool {
	sensorID, value, err := sensordata.DecodeFrame(frame)
	if err != nil {
		m.metrics.IncFramesMalformed()
		m.logger.Log(logging.Warning, "malformed frame from %s:%d: %v. Closing connection.", c.ip, c.port, err)
		return false
	}
	m.metrics.IncReadingsIngested()

	now := time.Now()

	m.mu.Lock()
	if !c.idReceived {
		c.sensorID = sensorID
		c.idReceived = true
		m.mu.Unlock()
		m.logger.Log(logging.Info, "sensor node %d has opened a new connection (%s:%d)", sensorID, c.ip, c.port)
	} else if c.sensorID != sensorID {
		old := c.sensorID
		c.sensorID = sensorID
		m.mu.Unlock()
		m.logger.Log(logging.Warning, "sensor ID changed on %s:%d from %d to %d", c.ip, c.port, old, sensorID)
	} else {
		m.mu.Unlock()
	}

	reading := sensordata.Reading{SensorID: sensorID, Value: value, Ts: now}

	if err := m.analytics.Insert(reading); err != nil {
		m.logger.Log(logging.Error, "failed to insert sensor %d reading into analytics buffer: %v", sensorID, err)
	}
	if err := m.storage.Insert(reading); err != nil {
		m.logger.Log(logging.Error, "failed to insert sensor %d reading into storage buffer: %v", sensorID, err)
	}
	return true
}

func (m *Manager) removeClient(c *client) {
	_ = c.conn.Close()

	m.mu.Lock()
	delete(m.clients, c.conn)
	m.perIPConn[c.ip]--
	if m.perIPConn[c.ip] <= 0 {
		delete(m.perIPConn, c.ip)
	}
	m.mu.Unlock()

	m.metrics.DecActiveConnections()
}

// Stop idempotently closes the listener, unblocking Accept and causing
// Serve to drain and return. It does not forcibly close already-open
// client connections; those observe ctx cancellation at their next read
// deadline or are closed by the caller via Close.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	m.stopped = true

	if m.listener != nil {
		_ = m.listener.Close()
	}
}

// Close forcibly closes every currently-open client connection, used
// during final shutdown after Serve has returned.
func (m *Manager) Close() {
	m.mu.Lock()
	conns := make([]net.Conn, 0, len(m.clients))
	for conn := range m.clients {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

// ActiveCount returns the current number of live client connections.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// StatsSnapshot returns one Snapshot per currently live connection, for
// the control plane's "stats" command.
func (m *Manager) StatsSnapshot() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	out := make([]Snapshot, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, Snapshot{
			SensorID:  c.sensorID,
			IDKnown:   c.idReceived,
			IP:        c.ip,
			Port:      c.port,
			Order:     c.order,
			Connected: now.Sub(c.connectedAt),
		})
	}
	return out
}

type timeoutError interface {
	Timeout() bool
}

func isTimeout(err error) bool {
	var te timeoutError
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}
