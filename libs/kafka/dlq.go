package kafka

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

const (
	ReasonDecode          = "decode"
	ReasonInvalidEnvelope = "invalid_envelope"
	ReasonPublishFailed   = "publish_failed"
)

// DLQError marks a message as permanently unprocessable. The consumer parks
// it on the dead-letter topic and commits past it.
type DLQError struct {
	Err    error
	Reason string
}

func (e *DLQError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *DLQError) Unwrap() error { return e.Err }

func DLQ(err error, reason string) error {
	if err == nil {
		return nil
	}
	return &DLQError{Err: err, Reason: reason}
}

// DeadLetter is what lands on a dead-letter topic, for both messages that
// failed to publish and messages a consumer could not handle. Partition and
// Offset are only set for the latter.
type DeadLetter struct {
	OriginalTopic string    `json:"original_topic"`
	Partition     *int32    `json:"partition,omitempty"`
	Offset        *int64    `json:"offset,omitempty"`
	Key           string    `json:"key,omitempty"`
	Error         string    `json:"error"`
	Reason        string    `json:"reason,omitempty"`
	Payload       string    `json:"payload_base64"`
	ParkedAt      time.Time `json:"parked_at"`
}

func consumedDeadLetter(msg *sarama.ConsumerMessage, cause *DLQError) DeadLetter {
	partition, offset := msg.Partition, msg.Offset
	return DeadLetter{
		OriginalTopic: msg.Topic,
		Partition:     &partition,
		Offset:        &offset,
		Key:           string(msg.Key),
		Error:         cause.Err.Error(),
		Reason:        cause.Reason,
		Payload:       base64.StdEncoding.EncodeToString(msg.Value),
		ParkedAt:      time.Now().UTC(),
	}
}

func publishDeadLetter(topic, key string, value any, cause error) DeadLetter {
	raw, err := json.Marshal(value)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", value))
	}
	return DeadLetter{
		OriginalTopic: topic,
		Key:           key,
		Error:         cause.Error(),
		Reason:        ReasonPublishFailed,
		Payload:       base64.StdEncoding.EncodeToString(raw),
		ParkedAt:      time.Now().UTC(),
	}
}
