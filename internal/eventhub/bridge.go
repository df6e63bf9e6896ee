package eventhub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs"

	"github.com/datakitchen/observability-agent/internal/config"
	"github.com/datakitchen/observability-agent/internal/obslog"
)

// Bridge runs the vendor SDK's own scheduler on its own goroutines and
// feeds decoded records into a bounded channel that the agent's
// ordinary cooperative scheduler drains. This is the one place in the
// fleet where a second concurrency domain is tolerated (§4.8), and it
// is kept to exactly this: receive, decode, enqueue, checkpoint.
type Bridge struct {
	cfg    config.EventHubsConfig
	logger *obslog.Logger

	processor *azeventhubs.Processor
	client    *azeventhubs.ConsumerClient
	notifier  *CheckpointNotifier

	out chan Record
}

// NewBridge dials the configured Event Hub and prepares (without yet
// starting) the receive-side processor. A CheckpointNotifier is always
// built so the bridge's checkpoint writes are observable locally over
// WebSocket (see notify.go); NewNotifyServer is only started by the
// caller when cfg.CheckpointNotifyAddr is non-empty.
func NewBridge(cfg config.EventHubsConfig, logger *obslog.Logger) (*Bridge, error) {
	client, err := azeventhubs.NewConsumerClientFromConnectionString(
		cfg.ConnectionString.Reveal(), cfg.EventHubName, cfg.ConsumerGroup, nil)
	if err != nil {
		return nil, err
	}

	notifier := NewCheckpointNotifier(logger)
	processor, err := azeventhubs.NewProcessor(client, newMemoryCheckpointStoreWithNotifier(notifier), nil)
	if err != nil {
		client.Close(context.Background())
		return nil, err
	}

	return &Bridge{
		cfg:       cfg,
		logger:    logger,
		processor: processor,
		client:    client,
		notifier:  notifier,
		out:       make(chan Record, cfg.QueueCapacity),
	}, nil
}

// Notifier exposes the bridge's checkpoint-notification hub so the
// caller can mount it on an HTTP listener when configured.
func (b *Bridge) Notifier() *CheckpointNotifier {
	return b.notifier
}

// Records is the bounded channel of decoded event records; the receive
// task (tasks.go) drains it.
func (b *Bridge) Records() <-chan Record {
	return b.out
}

// Run drives the processor until ctx is cancelled. One goroutine per
// partition client is spawned as the processor hands them out; each
// partition goroutine receives, decodes, enqueues (retrying with sleep
// on a full queue), and checkpoints unconditionally once its batch has
// been offered to the queue, mirroring loop.py's process_event finally
// clause.
func (b *Bridge) Run(ctx context.Context) error {
	processorCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		for {
			partitionClient := b.processor.NextPartitionClient(processorCtx)
			if partitionClient == nil {
				return
			}
			go b.processPartition(processorCtx, partitionClient)
		}
	}()

	err := b.processor.Run(processorCtx)
	close(b.out)
	return err
}

// Close releases the underlying Event Hubs connection.
func (b *Bridge) Close(ctx context.Context) error {
	return b.client.Close(ctx)
}

func (b *Bridge) processPartition(ctx context.Context, partitionClient *azeventhubs.ProcessorPartitionClient) {
	defer partitionClient.Close(context.Background())

	for {
		receiveCtx, cancelReceive := context.WithTimeout(ctx, azureClientMaxWaitTime)
		received, err := partitionClient.ReceiveEvents(receiveCtx, 100, nil)
		cancelReceive()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.WithContext(ctx).WithError(err).Warn("eventhub partition receive failed")
			continue
		}

		for _, evt := range received {
			b.enqueue(ctx, evt)
		}

		if len(received) > 0 {
			if err := partitionClient.UpdateCheckpoint(ctx, received[len(received)-1], nil); err != nil {
				b.logger.WithContext(ctx).WithError(err).Warn("eventhub checkpoint update failed")
			}
		}
	}
}

// azureClientMaxWaitTime bounds how long a single ReceiveEvents call
// waits for a batch before returning empty, matching loop.py's
// AZURE_CLIENT_MAX_WAIT_TIME.
const azureClientMaxWaitTime = 5 * time.Second

func (b *Bridge) enqueue(ctx context.Context, evt *azeventhubs.ReceivedEventData) {
	var body struct {
		Records []Record `json:"records"`
	}
	if err := json.Unmarshal(evt.Body, &body); err != nil {
		b.logger.WithContext(ctx).WithError(err).Warn("eventhub message was not decodable JSON")
		return
	}

	for _, record := range body.Records {
		for {
			select {
			case <-ctx.Done():
				return
			case b.out <- record:
			default:
				select {
				case <-ctx.Done():
					return
				case <-time.After(b.cfg.QueuePutSleep):
					continue
				}
			}
			break
		}
	}
}
