// Package notifier announces published commitments to downstream consumers
// (claim frontends, indexers) so they can start serving proofs.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/trepa-protocol/resolution-prover/pkg/persistence"
)

// INotifier is told about every publication once it has landed.
type INotifier interface {
	NotifyPublished(ctx context.Context, p *persistence.Publication) error
	Close()
}

// PublishedEvent is the wire form of a publication announcement.
type PublishedEvent struct {
	Pool        string `json:"pool"`
	Root        string `json:"root"`
	Authority   string `json:"authority"`
	Signature   string `json:"signature"`
	Outcome     string `json:"outcome"`
	RunID       string `json:"runId"`
	NodeCount   uint64 `json:"nodeCount"`
	PublishedAt int64  `json:"publishedAt"`
}

// NewPublishedEvent renders p for consumers: keys and signature in base58,
// root as 0x-prefixed hex.
func NewPublishedEvent(p *persistence.Publication) PublishedEvent {
	return PublishedEvent{
		Pool:        p.Pool.String(),
		Root:        hexutil.Encode(p.Root[:]),
		Authority:   p.Authority.String(),
		Signature:   p.Signature.String(),
		Outcome:     p.Outcome,
		RunID:       p.RunID,
		NodeCount:   p.NodeCount,
		PublishedAt: p.PublishedAt,
	}
}

// Producer is the subset of *kgo.Client the Kafka notifier uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaNotifier produces one record per publication, keyed by pool so a
// pool's announcements stay ordered within a partition.
type KafkaNotifier struct {
	producer Producer
	topic    string
	logger   *zap.Logger
}

// NewKafkaNotifier wraps producer. An empty topic uses the client's default
// produce topic.
func NewKafkaNotifier(producer Producer, topic string, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

func createRecord(topic string, p *persistence.Publication) (*kgo.Record, error) {
	payload, err := json.Marshal(NewPublishedEvent(p))
	if err != nil {
		return nil, fmt.Errorf("marshalling to json: %w", err)
	}

	key := make([]byte, len(p.Pool))
	copy(key, p.Pool[:])

	return &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: payload,
	}, nil
}

func (k *KafkaNotifier) NotifyPublished(ctx context.Context, p *persistence.Publication) error {
	if p == nil {
		return fmt.Errorf("cannot notify nil publication")
	}

	record, err := createRecord(k.topic, p)
	if err != nil {
		return fmt.Errorf("creating publication record: %w", err)
	}

	if err := k.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("producing publication record: %w", err)
	}

	k.logger.Sugar().Debugw("Announced publication", "pool", p.Pool.String(), "topic", k.topic)
	return nil
}

func (k *KafkaNotifier) Close() {
	k.producer.Close()
}

// NoopNotifier discards announcements.
type NoopNotifier struct{}

func (NoopNotifier) NotifyPublished(context.Context, *persistence.Publication) error { return nil }

func (NoopNotifier) Close() {}

var (
	_ INotifier = (*KafkaNotifier)(nil)
	_ INotifier = NoopNotifier{}
)
