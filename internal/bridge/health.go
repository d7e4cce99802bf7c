package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/subsubl/hass-quixi-bridge/internal/infrastructure/mqtt"
)

// HealthStatus is the overall bridge status in a health message.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

const defaultHealthInterval = 30 * time.Second

// HealthMessage is published retained on hassbridge/health.
type HealthMessage struct {
	Status        HealthStatus    `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	Version       string          `json:"version"`
	Connection    ConnectionState `json:"connection"`
	Devices       int             `json:"devices"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Stats         Stats           `json:"stats"`
	Timestamp     time.Time       `json:"timestamp"`
}

// StatsSource provides engine state for health messages. *Engine satisfies it.
type StatsSource interface {
	Stats() Stats
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Version string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	Publisher Publisher
	Source    StatsSource
	QoS       byte
	Logger    Logger
}

// HealthReporter publishes periodic health messages to MQTT.
type HealthReporter struct {
	version   string
	startTime time.Time
	interval  time.Duration
	publisher Publisher
	source    StatsSource
	qos       byte
	logger    Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	return &HealthReporter{
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		source:    cfg.Source,
		qos:       cfg.QoS,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logger.Error("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Error("failed to publish health", "error", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.source == nil {
		return HealthDegraded, "no sync engine"
	}
	if st := h.source.Stats().State; st != Streaming {
		return HealthDegraded, "hub " + st.String()
	}
	return HealthHealthy, ""
}

// buildMessage assembles a health message from current engine stats.
func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	var stats Stats
	if h.source != nil {
		stats = h.source.Stats()
	}
	return HealthMessage{
		Status:        status,
		Reason:        reason,
		Version:       h.version,
		Connection:    stats.State,
		Devices:       stats.CachedEntities,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Stats:         stats,
		Timestamp:     time.Now().UTC(),
	}
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(mqtt.Topics{}.Health(), payload, h.qos, true)
}
