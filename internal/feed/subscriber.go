// Package feed consumes the chain event feed from NATS. Each message body
// is a chain feed document in either supported shape.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"github.com/punchamoorthee/pkrsettle/internal/metrics"
	"github.com/punchamoorthee/pkrsettle/internal/normalizer"
	"github.com/punchamoorthee/pkrsettle/internal/service"
	"go.uber.org/zap"
)

const QueueGroup = "settlement"

// Ingester is the part of the settlement service the feed drives.
type Ingester interface {
	IngestChainEvents(ctx context.Context, events []domain.SettlementEvent) (*service.FeedResult, error)
}

type Subscriber struct {
	ingester Ingester
	subject  string
	timeout  time.Duration
	log      *zap.Logger
}

func NewSubscriber(ingester Ingester, subject string, log *zap.Logger) *Subscriber {
	return &Subscriber{
		ingester: ingester,
		subject:  subject,
		timeout:  30 * time.Second,
		log:      log.Named("feed"),
	}
}

// Connect dials NATS with unlimited reconnects.
func Connect(url string, log *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("pkrsettle"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

// Run subscribes in the settlement queue group and blocks until ctx is
// done, then drains the subscription.
func (s *Subscriber) Run(ctx context.Context, nc *nats.Conn) error {
	sub, err := nc.QueueSubscribe(s.subject, QueueGroup, func(msg *nats.Msg) {
		res, err := s.Handle(ctx, msg.Data)
		if msg.Reply == "" {
			return
		}
		reply := map[string]any{"result": res}
		if err != nil {
			reply = map[string]any{"error": err.Error(), "code": domain.CodeOf(err)}
		}
		body, _ := json.Marshal(reply)
		if err := msg.Respond(body); err != nil {
			s.log.Warn("feed reply failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	s.log.Info("subscribed to chain feed", zap.String("subject", s.subject), zap.String("queue", QueueGroup))

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		s.log.Warn("drain chain feed subscription", zap.Error(err))
	}
	return nil
}

// Handle normalizes one feed document and ingests its events. Malformed
// documents are logged and dropped; redelivery would not fix them.
func (s *Subscriber) Handle(ctx context.Context, data []byte) (*service.FeedResult, error) {
	events, shape, err := normalizer.ChainFeed(data, time.Now())
	if err != nil {
		metrics.WebhookRejections.WithLabelValues(string(domain.SourceChain), string(domain.CodeOf(err))).Inc()
		s.log.Warn("dropping malformed chain feed message",
			zap.String("shape", shape.String()),
			zap.Error(err))
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.ingester.IngestChainEvents(ctx, events)
	if err != nil {
		s.log.Error("chain feed ingest failed", zap.Error(err))
		return res, err
	}
	s.log.Info("chain feed message ingested",
		zap.String("shape", shape.String()),
		zap.Int("received", res.Received),
		zap.Int("burns", res.Burns),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}
