/*
Copyright 2024 Commune Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/communehq/commune/model"
)

// Publisher is the message transport behind the relay. The relay only needs
// a single delivery attempt per record; retry scheduling lives in the outbox
// state machine, not here.
type Publisher interface {
	Publish(ctx context.Context, record *model.OutboxRecord) error
	Close() error
}

// RabbitMQPublisher delivers outbox records to a RabbitMQ topic exchange.
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewRabbitMQPublisher connects to the broker, retrying with exponential
// backoff, and declares the configured exchange.
func NewRabbitMQPublisher(url, exchange string) (*RabbitMQPublisher, error) {
	var conn *amqp.Connection

	connect := func() error {
		var err error
		conn, err = amqp.Dial(url)
		if err != nil {
			logrus.Warnf("broker connection failed, retrying: %v", err)
		}
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(connect, policy); err != nil {
		return nil, fmt.Errorf("could not connect to broker at %s: %w", url, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not open broker channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("could not declare exchange %s: %w", exchange, err)
	}

	logrus.Infof("connected to broker, exchange %s declared", exchange)
	return &RabbitMQPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

// Publish delivers one record. Messages are persistent so a broker restart
// does not drop an already-acknowledged delivery.
func (p *RabbitMQPublisher) Publish(ctx context.Context, record *model.OutboxRecord) error {
	exchange := record.Exchange
	if exchange == "" {
		exchange = p.exchange
	}
	return p.channel.PublishWithContext(ctx,
		exchange,
		record.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         record.Payload,
			DeliveryMode: amqp.Persistent,
			MessageId:    record.EventID,
			Type:         record.EventType,
			Timestamp:    record.CreatedAt,
		},
	)
}

func (p *RabbitMQPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
