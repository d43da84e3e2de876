package kafkax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ReadyCheck dials the first reachable broker and, when topics are given, confirms each
// one has partition metadata so a consumer is not started against a missing topic.
func ReadyCheck(brokers string, topics ...string) func(context.Context) error {
	return func(ctx context.Context) error {
		list := SplitBrokers(brokers)
		if len(list) == 0 {
			return errors.New("kafka brokers not configured")
		}
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		var lastErr error
		for _, b := range list {
			conn, err := dialer.DialContext(ctx, "tcp", b)
			if err != nil {
				lastErr = err
				continue
			}
			err = checkTopics(conn, topics)
			_ = conn.Close()
			return err
		}
		return lastErr
	}
}

func checkTopics(conn *kafka.Conn, topics []string) error {
	for _, topic := range topics {
		parts, err := conn.ReadPartitions(topic)
		if err != nil {
			return fmt.Errorf("topic %s: %w", topic, err)
		}
		if len(parts) == 0 {
			return fmt.Errorf("topic %s has no partitions", topic)
		}
	}
	return nil
}
