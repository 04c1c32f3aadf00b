package infra

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// NewRabbitConnection dials RabbitMQ with a bounded dial timeout.
func NewRabbitConnection(rawURL string) (*amqp.Connection, error) {
	clean, err := sanitizeAMQPURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse rabbitmq url: %w", err)
	}
	conn, err := amqp.DialConfig(clean, amqp.Config{
		Dial:       amqp.DefaultDial(10 * time.Second),
		Heartbeat:  10 * time.Second,
		Properties: amqp.Table{"connection_name": "mintledger"},
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	return conn, nil
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
