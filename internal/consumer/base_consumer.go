package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"
)

// Topology names the exchange, queues and binding the consumer declares.
type Topology struct {
	Exchange   string
	RoutingKey string
	Queue      string
	DLQ        string
}

// BaseConsumer wires RabbitMQ connectivity, queue declaration and worker handling.
type BaseConsumer struct {
	conn        *amqp.Connection
	topology    Topology
	prefetch    int
	workerCount int
	logger      *slog.Logger
}

func NewBaseConsumer(conn *amqp.Connection, topology Topology, prefetch, workerCount int, logger *slog.Logger) *BaseConsumer {
	if prefetch <= 0 {
		prefetch = 50
	}
	if workerCount <= 0 {
		workerCount = 2
	}
	if topology.Exchange == "" {
		topology.Exchange = "push.direct"
	}
	if topology.RoutingKey == "" {
		topology.RoutingKey = "push.event"
	}
	return &BaseConsumer{
		conn:        conn,
		topology:    topology,
		prefetch:    prefetch,
		workerCount: workerCount,
		logger:      logger,
	}
}

func (c *BaseConsumer) Start(ctx context.Context, handler func(context.Context, amqp.Delivery) error) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := c.setupQueue(ch); err != nil {
		return fmt.Errorf("queue setup failed: %w", err)
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("qos configuration failed: %w", err)
	}

	deliveries, err := ch.Consume(
		c.topology.Queue,
		"",
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < c.workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-deliveries:
					if !ok {
						return
					}
					if err := handler(ctx, msg); err != nil {
						c.logger.Error("handler returned error", slog.Int("worker", id), slog.Any("error", err))
					}
				}
			}
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (c *BaseConsumer) setupQueue(ch *amqp.Channel) error {
	t := c.topology
	args := amqp.Table{}
	if t.DLQ != "" {
		args["x-dead-letter-exchange"] = ""
		args["x-dead-letter-routing-key"] = t.DLQ
	}

	if err := ch.ExchangeDeclare(
		t.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(
		t.Queue,
		true,
		false,
		false,
		false,
		args,
	); err != nil {
		return err
	}

	if err := ch.QueueBind(
		t.Queue,
		t.RoutingKey,
		t.Exchange,
		false,
		nil,
	); err != nil {
		return err
	}

	if t.DLQ != "" {
		if _, err := ch.QueueDeclare(
			t.DLQ,
			true,
			false,
			false,
			false,
			nil,
		); err != nil {
			return err
		}
	}
	return nil
}
