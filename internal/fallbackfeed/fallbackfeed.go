// Package fallbackfeed carries daily scraped prices to the fallback table
// over Kafka.
package fallbackfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockadvisor/internal/metrics"
)

// Update is the message payload.
type Update struct {
	Prices    map[string]decimal.Decimal `json:"prices"`
	ScrapedAt time.Time                  `json:"scraped_at"`
	Origin    string                     `json:"origin,omitempty"`
}

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer is the subset of *kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Refresher applies scraped prices; *fallback.Table implements it.
type Refresher interface {
	Refresh(scraped map[string]decimal.Decimal) (bool, error)
}

func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  time.Second,
	})
}

func NewWriter(brokers []string, topic, clientID string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{ClientID: clientID},
	}
}

// Consumer applies every received update to a Refresher and commits it.
type Consumer struct {
	reader  Reader
	table   Refresher
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewConsumer(r Reader, table Refresher, log *zap.Logger, m *metrics.Metrics) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{reader: r, table: table, log: log.Named("fallbackfeed"), metrics: m}
}

// Run consumes until ctx is done. It returns nil on cancellation and the
// first reader or commit error otherwise.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		c.Handle(msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

// Handle decodes and applies one message. Undecodable or empty messages are
// logged and dropped so they are committed past.
func (c *Consumer) Handle(msg kafka.Message) {
	log := c.log.With(zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset))

	var u Update
	if err := json.Unmarshal(msg.Value, &u); err != nil {
		log.Warn("dropping malformed fallback update", zap.Error(err))
		return
	}
	applied, err := c.table.Refresh(u.Prices)
	if err != nil {
		log.Warn("fallback update rejected", zap.Error(err))
		return
	}
	c.metrics.FallbackRefresh(applied)
	if !applied {
		log.Info("fallback table already refreshed today", zap.Int("prices", len(u.Prices)))
		return
	}
	log.Info("fallback table refreshed",
		zap.Int("prices", len(u.Prices)),
		zap.Time("scraped_at", u.ScrapedAt),
		zap.String("origin", u.Origin))
}

// Close closes the reader.
func (c *Consumer) Close() error { return c.reader.Close() }

// Publisher writes updates.
type Publisher struct {
	writer Writer
	now    func() time.Time
}

func NewPublisher(w Writer) *Publisher { return &Publisher{writer: w, now: time.Now} }

// ErrNoPrices is returned when publishing an empty update.
var ErrNoPrices = errors.New("fallbackfeed: update has no prices")

// Publish encodes u and writes it keyed by its scrape day.
func (p *Publisher) Publish(ctx context.Context, u Update) error {
	if len(u.Prices) == 0 {
		return ErrNoPrices
	}
	if u.ScrapedAt.IsZero() {
		u.ScrapedAt = p.now().UTC()
	}
	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(u.ScrapedAt.Format(time.DateOnly)),
		Value: b,
		Time:  u.ScrapedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write update: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error { return p.writer.Close() }
