package notifier

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string

	// MetricsNamespace enables kprom client metrics when set.
	MetricsNamespace string
}

// NewKafkaClient creates the franz-go client backing a KafkaNotifier.
func NewKafkaClient(cfg KafkaConfig, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*kgo.Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerBatchCompression(kgo.ZstdCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.MetricsNamespace != "" && reg != nil && gatherer != nil {
		m := kprom.NewMetrics(cfg.MetricsNamespace,
			kprom.Registerer(reg),
			kprom.Gatherer(gatherer))
		opts = append(opts, kgo.WithHooks(m))
	}

	kcl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}
	return kcl, nil
}
