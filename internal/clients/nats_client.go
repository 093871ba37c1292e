package clients

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"proofplus-coordinator/internal/models"
)

// OutcomeMessage payload published for every reconciliation
type OutcomeMessage struct {
	TaskID          string                  `json:"task_id"`
	Outcome         models.ReconcileOutcome `json:"outcome"`
	Source          models.ReconcileSource  `json:"source"`
	PublicInputHash string                  `json:"public_input_hash,omitempty"`
	ProofHash       string                  `json:"proof_hash,omitempty"`
	Attempts        int                     `json:"attempts"`
	Slashable       bool                    `json:"slashable"`
	Timestamp       int64                   `json:"timestamp"`
}

// NewOutcomeMessage builds the published form of a reconciliation result
func NewOutcomeMessage(result *models.ReconcileResult) *OutcomeMessage {
	msg := &OutcomeMessage{
		TaskID:    models.TaskKey(result.TaskID),
		Outcome:   result.Outcome,
		Source:    result.Source,
		Attempts:  result.Attempts,
		Slashable: result.Slashable,
		Timestamp: time.Now().Unix(),
	}
	if len(result.PublicInputHash) > 0 {
		msg.PublicInputHash = fmt.Sprintf("%x", result.PublicInputHash)
	}
	if len(result.ProofHash) > 0 {
		msg.ProofHash = fmt.Sprintf("%x", result.ProofHash)
	}
	return msg
}

// OutcomeSubject <prefix>.reconciled.<outcome>
func OutcomeSubject(prefix string, outcome models.ReconcileOutcome) string {
	return fmt.Sprintf("%s.reconciled.%s", prefix, outcome)
}

// SlashableSubject <prefix>.slashable
func SlashableSubject(prefix string) string {
	return prefix + ".slashable"
}

// NATSPublisher publishes reconciliation outcomes for the external transaction layer
type NATSPublisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
	logger *logrus.Logger
}

// NewNATSPublisher connects to NATS. With a non-empty streamName messages go
// through JetStream and the stream is created when missing.
func NewNATSPublisher(url, prefix, streamName string, connectTimeout time.Duration, logger *logrus.Logger) (*NATSPublisher, error) {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	conn, err := nats.Connect(url,
		nats.Name("proof-task-coordinator"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS connection lost")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	p := &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
	if streamName != "" {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		p.js = js
		if err := p.ensureStream(streamName); err != nil {
			conn.Close()
			return nil, err
		}
	}

	logger.WithFields(logrus.Fields{
		"url":       url,
		"prefix":    prefix,
		"jetstream": streamName != "",
	}).Info("NATS publisher connected")
	return p, nil
}

func (p *NATSPublisher) ensureStream(name string) error {
	if _, err := p.js.StreamInfo(name); err == nil {
		return nil
	}
	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{p.prefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", name, err)
	}
	p.logger.WithField("stream", name).Info("JetStream stream created")
	return nil
}

// PublishOutcome publishes the result, and additionally to the slashable subject when flagged
func (p *NATSPublisher) PublishOutcome(result *models.ReconcileResult) error {
	data, err := json.Marshal(NewOutcomeMessage(result))
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	if err := p.publish(OutcomeSubject(p.prefix, result.Outcome), data); err != nil {
		return err
	}
	if result.Slashable {
		return p.publish(SlashableSubject(p.prefix), data)
	}
	return nil
}

func (p *NATSPublisher) publish(subject string, data []byte) error {
	var err error
	if p.js != nil {
		_, err = p.js.Publish(subject, data)
	} else {
		err = p.conn.Publish(subject, data)
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
		}
	}
}
