// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/streadway/amqp"
)

// defaultDialTimeout bounds the AMQP connection handshake.
const defaultDialTimeout = 10 * time.Second

// BrokerConfig holds the AMQP connection details.
type BrokerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	VHost    string
	Queue    string
}

// URI returns the AMQP connection URI.
func (c BrokerConfig) URI() string {
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		Vhost:    vhost,
	}.String()
}

// DeclareQueue makes sure the durable work queue exists so the management API
// reports its depth from the first cycle on. The declaration is idempotent.
func DeclareQueue(ctx context.Context, log hclog.Logger, cfg BrokerConfig) error {
	dialTimeout := defaultDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		dialTimeout = min(dialTimeout, time.Until(deadline))
	}

	conn, err := amqp.DialConfig(cfg.URI(), amqp.Config{
		Dial: amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", cfg.Queue, err)
	}

	log.Named("rabbitmq").Info("queue declared", "queue", q.Name, "messages", q.Messages, "consumers", q.Consumers)
	return nil
}
