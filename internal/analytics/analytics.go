// Package analytics implements the gateway's thermal-analytics consumer:
// a single loop that drains readings from a buffer, maintains a running
// average per sensor, and logs threshold-crossing alerts.
package analytics

import (
	"errors"

	"github.com/dantte-lp/sensorgw/internal/buffer"
	"github.com/dantte-lp/sensorgw/internal/gwmetrics"
	"github.com/dantte-lp/sensorgw/internal/logging"
	"github.com/dantte-lp/sensorgw/internal/roommap"
	"github.com/dantte-lp/sensorgw/internal/sensordata"
)

// Thresholds holds the two temperature boundaries that classify a
// sensor's running average as too cold, too hot, or normal.
type Thresholds struct {
	Cold float64
	Hot  float64
}

// DefaultThresholds mirrors the reference implementation's compiled-in
// defaults (config.h: TEMP_TOO_COLD_THRESHOLD / TEMP_TOO_HOT_THRESHOLD).
var DefaultThresholds = Thresholds{Cold: 15.0, Hot: 30.0}

// stats is the running statistics kept for one sensor id.
type stats struct {
	sum        float64
	count      uint64
	lastLogged State
}

// Consumer drains readings from a buffer, updates per-sensor running
// averages, and logs thermal alert transitions.
type Consumer struct {
	source     *buffer.Buffer[sensordata.Reading]
	logger     *logging.Logger
	metrics    *gwmetrics.Collector
	thresholds Thresholds
	rooms      *roommap.Map

	bySensor map[uint16]*stats
}

// New constructs a Consumer. rooms and metrics may be nil.
func New(source *buffer.Buffer[sensordata.Reading], logger *logging.Logger, metrics *gwmetrics.Collector, thresholds Thresholds, rooms *roommap.Map) *Consumer {
	return &Consumer{
		source:     source,
		logger:     logger,
		metrics:    metrics,
		thresholds: thresholds,
		rooms:      rooms,
		bySensor:   make(map[uint16]*stats),
	}
}

// Run drives the consume loop until the source buffer signals shutdown.
// It returns nil on an orderly shutdown.
func (c *Consumer) Run() error {
	c.logger.Log(logging.Info, "data manager thread started.")

	for {
		reading, err := c.source.Remove()
		if err != nil {
			if errors.Is(err, buffer.ErrShutdown) {
				c.logger.Log(logging.Info, "data manager received shutdown signal from buffer. exiting loop.")
				break
			}
			c.logger.Log(logging.Error, "data manager failed to remove data from buffer: %v", err)
			continue
		}

		c.process(reading)
	}

	c.logger.Log(logging.Info, "data manager finished cleanup.")
	return nil
}

func (c *Consumer) process(r sensordata.Reading) {
	if r.SensorID == sensordata.InvalidSensorID {
		c.logger.Log(logging.Warning, "received sensor data with invalid sensor node ID %d", r.SensorID)
		return
	}

	s, ok := c.bySensor[r.SensorID]
	if !ok {
		s = &stats{lastLogged: StateNormal}
		c.bySensor[r.SensorID] = s
	}

	s.sum += r.Value
	s.count++

	avg := s.sum / float64(s.count)
	next := classify(avg, c.thresholds)

	if action, changed := transition(s.lastLogged, next); changed {
		c.logAlert(action, r.SensorID, avg)
		s.lastLogged = next
	}

	c.logger.Log(logging.Debug, "processed sensor ID: %d, value: %.2f, count: %d, avg: %.2f",
		r.SensorID, r.Value, s.count, avg)
}

func (c *Consumer) logAlert(a Action, sensorID uint16, avg float64) {
	roomID, haveRoom := 0, false
	if c.rooms != nil {
		roomID, haveRoom = c.rooms.Lookup(sensorID)
	}

	label := "for sensor"
	id := int(sensorID)
	if haveRoom {
		label = "in room"
		id = roomID
	}

	switch a {
	case ActionWarnTooCold:
		c.metrics.IncAlert(sensorID, "too_cold")
		c.logger.Log(logging.Warning, "sensor node %d (%s %d) reports it's too cold (running avg temperature = %.2f)",
			sensorID, label, id, avg)
	case ActionWarnTooHot:
		c.metrics.IncAlert(sensorID, "too_hot")
		c.logger.Log(logging.Warning, "sensor node %d (%s %d) reports it's too hot (running avg temperature = %.2f)",
			sensorID, label, id, avg)
	case ActionInfoNormal:
		c.metrics.IncAlert(sensorID, "normal")
		c.logger.Log(logging.Info, "sensor node %d (%s %d) temperature has returned to normal (running avg temperature = %.2f)",
			sensorID, label, id, avg)
	}
}
