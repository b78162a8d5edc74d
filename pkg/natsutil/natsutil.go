// Package natsutil provides typed NATS publish/subscribe helpers with
// OpenTelemetry trace propagation, and a consumer that re-queues failed
// messages and dead-letters them after a bounded number of attempts.
package natsutil

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// RetryHeader carries how many times a message has already failed.
const RetryHeader = "X-Retry-Count"

// MsgPublisher is the part of *nats.Conn used for publishing.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

func inject(ctx context.Context, msg *nats.Msg) {
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
}

func extract(msg *nats.Msg) context.Context {
	return otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
}

// Publish serializes v as JSON and publishes it with ctx's trace context.
func Publish[T any](ctx context.Context, p MsgPublisher, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	inject(ctx, msg)
	return p.PublishMsg(msg)
}

// Subscribe registers a handler for JSON messages of type T. Malformed
// messages are logged and dropped.
func Subscribe[T any](nc *nats.Conn, subject string, logger *slog.Logger, handler func(context.Context, T)) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			logger.Warn("natsutil: dropping malformed message", "subject", msg.Subject, "error", err)
			return
		}
		handler(extract(msg), v)
	})
}

// Attempts returns how many times msg has already failed.
func Attempts(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Header.Get(RetryHeader))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ConsumeOpts configures Consume.
type ConsumeOpts struct {
	// MaxAttempts is the number of deliveries before dead-lettering.
	MaxAttempts int
	// DLQSubject receives DeadLetter envelopes. Empty drops exhausted messages.
	DLQSubject string
	// Permanent marks errors that no retry can fix; they dead-letter at once.
	Permanent func(error) bool
	Logger    *slog.Logger
}

// DeadLetter is published to the DLQ subject.
type DeadLetter struct {
	Subject  string          `json:"subject"`
	Payload  json.RawMessage `json:"payload"`
	Error    string          `json:"error"`
	Attempts int             `json:"attempts"`
}

// Consume subscribes handler to subject with retry and DLQ semantics.
func Consume[T any](nc *nats.Conn, subject string, opts ConsumeOpts, handler func(context.Context, T) error) (*nats.Subscription, error) {
	return nc.Subscribe(subject, Deliver(nc, opts, handler))
}

// Deliver returns the message handler used by Consume. A failed message is
// republished to its subject with an incremented RetryHeader; once
// MaxAttempts deliveries have failed, the error is permanent, or the payload
// does not decode, a DeadLetter is published instead.
func Deliver[T any](p MsgPublisher, opts ConsumeOpts, handler func(context.Context, T) error) nats.MsgHandler {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return func(msg *nats.Msg) {
		defer ack(msg)
		attempts := Attempts(msg) + 1

		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			log.Error("natsutil: undecodable message", "subject", msg.Subject, "error", err)
			deadLetter(p, opts.DLQSubject, msg, err, attempts, log)
			return
		}

		err := handler(extract(msg), v)
		if err == nil {
			return
		}
		log.Error("natsutil: handler failed", "subject", msg.Subject, "attempt", attempts, "error", err)
		if attempts >= opts.MaxAttempts || (opts.Permanent != nil && opts.Permanent(err)) {
			deadLetter(p, opts.DLQSubject, msg, err, attempts, log)
			return
		}

		retry := nats.NewMsg(msg.Subject)
		retry.Data = msg.Data
		for k, vs := range msg.Header {
			for _, val := range vs {
				retry.Header.Add(k, val)
			}
		}
		retry.Header.Set(RetryHeader, strconv.Itoa(attempts))
		if err := p.PublishMsg(retry); err != nil {
			log.Error("natsutil: retry publish failed", "subject", msg.Subject, "error", err)
		}
	}
}

func deadLetter(p MsgPublisher, subject string, msg *nats.Msg, cause error, attempts int, log *slog.Logger) {
	if subject == "" {
		return
	}
	payload := json.RawMessage(msg.Data)
	if !json.Valid(msg.Data) {
		payload, _ = json.Marshal(string(msg.Data))
	}
	dl := DeadLetter{Subject: msg.Subject, Payload: payload, Error: cause.Error(), Attempts: attempts}
	if err := Publish(extract(msg), p, subject, dl); err != nil {
		log.Error("natsutil: DLQ publish failed", "subject", subject, "error", err)
	}
}

// ack acknowledges JetStream deliveries; core NATS messages have no reply.
func ack(msg *nats.Msg) {
	if msg.Reply != "" && msg.Sub != nil {
		_ = msg.Ack()
	}
}
