package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/subsubl/hass-quixi-bridge/internal/infrastructure/mqtt"
)

const defaultSourceBuffer = 32

// Subscriber subscribes to MQTT topics. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// MQTTSourceConfig configures an MQTTSource.
type MQTTSourceConfig struct {
	// Topic defaults to quixi/commands.
	Topic string
	QoS   byte

	// Buffer is the queue size; messages arriving when full are dropped.
	// Default: 32.
	Buffer int

	Logger Logger
}

// MQTTSource receives chat commands from an MQTT topic.
//
// Payloads are either JSON {"sender": "...", "command": "..."} or plain
// text "<sender> <command...>".
type MQTTSource struct {
	sub    Subscriber
	topic  string
	logger Logger

	messages  chan Inbound
	done      chan struct{}
	closeOnce sync.Once
}

type inboundPayload struct {
	Sender  string `json:"sender"`
	Command string `json:"command"`
}

// NewMQTTSource subscribes to the command topic.
func NewMQTTSource(sub Subscriber, cfg MQTTSourceConfig) (*MQTTSource, error) {
	if cfg.Topic == "" {
		cfg.Topic = mqtt.DefaultCommandTopic
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultSourceBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	s := &MQTTSource{
		sub:      sub,
		topic:    cfg.Topic,
		logger:   logger,
		messages: make(chan Inbound, cfg.Buffer),
		done:     make(chan struct{}),
	}

	if err := sub.Subscribe(cfg.Topic, cfg.QoS, s.handleMessage); err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", cfg.Topic, err)
	}
	return s, nil
}

// Next returns the next queued message.
func (s *MQTTSource) Next(ctx context.Context) (Inbound, error) {
	select {
	case <-ctx.Done():
		return Inbound{}, ctx.Err()
	case <-s.done:
		return Inbound{}, ErrSourceClosed
	case msg := <-s.messages:
		return msg, nil
	}
}

// Close unsubscribes and makes Next return ErrSourceClosed.
func (s *MQTTSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.sub.Unsubscribe(s.topic)
	})
	return err
}

// handleMessage runs on the MQTT client goroutine; it never blocks.
func (s *MQTTSource) handleMessage(topic string, payload []byte) error {
	msg, err := DecodePayload(payload)
	if err != nil {
		s.logger.Warn("dropping malformed command message", "topic", topic, "error", err)
		return nil
	}

	select {
	case <-s.done:
	case s.messages <- msg:
	default:
		s.logger.Warn("command queue full, dropping message", "topic", topic, "sender", msg.Sender)
	}
	return nil
}

// DecodePayload decodes a JSON or plain-text command message.
func DecodePayload(payload []byte) (Inbound, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return Inbound{}, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}

	if trimmed[0] == '{' {
		var p inboundPayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return Inbound{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		if p.Sender == "" {
			return Inbound{}, fmt.Errorf("%w: missing sender", ErrInvalidPayload)
		}
		return Inbound{Sender: p.Sender, Text: p.Command}, nil
	}

	fields := strings.Fields(string(trimmed))
	return Inbound{Sender: fields[0], Text: strings.Join(fields[1:], " ")}, nil
}
