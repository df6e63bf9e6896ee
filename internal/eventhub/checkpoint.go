package eventhub

import (
	"context"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs"
)

// memoryCheckpointStore is a process-local azeventhubs.CheckpointStore.
// The original agent falls back to no checkpoint store at all when
// blob storage isn't configured (loop.py catches the config
// ValidationError and passes checkpoint_store=None), which disables
// load balancing and checkpoint durability entirely. The Go Processor
// type requires a non-nil CheckpointStore, so this in-memory stand-in
// plays that same "best effort, no durability" role: ownership and
// checkpoints live only as long as this process does, with a single
// owner consuming every partition. The checkpoint_store_container_url
// setting is not read by this store: checkpoints are lost on restart,
// and a restarted processor begins from the processor's default start
// position.
type memoryCheckpointStore struct {
	mu           sync.Mutex
	ownerships   map[string]azeventhubs.Ownership
	checkpoints  map[string]azeventhubs.Checkpoint

	// notifier mirrors every accepted checkpoint to local WebSocket
	// observers (see notify.go); nil when no notifier was configured,
	// in which case UpdateCheckpoint behaves exactly as before.
	notifier *CheckpointNotifier
}

func newMemoryCheckpointStore() *memoryCheckpointStore {
	return newMemoryCheckpointStoreWithNotifier(nil)
}

func newMemoryCheckpointStoreWithNotifier(notifier *CheckpointNotifier) *memoryCheckpointStore {
	return &memoryCheckpointStore{
		ownerships:  make(map[string]azeventhubs.Ownership),
		checkpoints: make(map[string]azeventhubs.Checkpoint),
		notifier:    notifier,
	}
}

func ownershipKey(namespace, eventHub, consumerGroup, partitionID string) string {
	return namespace + "/" + eventHub + "/" + consumerGroup + "/" + partitionID
}

func (s *memoryCheckpointStore) ClaimOwnership(_ context.Context, partitionOwnership []azeventhubs.Ownership, _ *azeventhubs.ClaimOwnershipOptions) ([]azeventhubs.Ownership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	claimed := make([]azeventhubs.Ownership, 0, len(partitionOwnership))
	for _, o := range partitionOwnership {
		key := ownershipKey(o.FullyQualifiedNamespace, o.EventHubName, o.ConsumerGroup, o.PartitionID)
		s.ownerships[key] = o
		claimed = append(claimed, o)
	}
	return claimed, nil
}

func (s *memoryCheckpointStore) ListCheckpoints(_ context.Context, namespace, eventHub, consumerGroup string, _ *azeventhubs.ListCheckpointsOptions) ([]azeventhubs.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]azeventhubs.Checkpoint, 0, len(s.checkpoints))
	for _, c := range s.checkpoints {
		if c.FullyQualifiedNamespace == namespace && c.EventHubName == eventHub && c.ConsumerGroup == consumerGroup {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memoryCheckpointStore) ListOwnership(_ context.Context, namespace, eventHub, consumerGroup string, _ *azeventhubs.ListOwnershipOptions) ([]azeventhubs.Ownership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]azeventhubs.Ownership, 0, len(s.ownerships))
	for _, o := range s.ownerships {
		if o.FullyQualifiedNamespace == namespace && o.EventHubName == eventHub && o.ConsumerGroup == consumerGroup {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memoryCheckpointStore) UpdateCheckpoint(_ context.Context, checkpoint azeventhubs.Checkpoint, _ *azeventhubs.UpdateCheckpointOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ownershipKey(checkpoint.FullyQualifiedNamespace, checkpoint.EventHubName, checkpoint.ConsumerGroup, checkpoint.PartitionID)
	s.checkpoints[key] = checkpoint
	if s.notifier != nil {
		s.notifier.Broadcast(checkpoint)
	}
	return nil
}

var _ azeventhubs.CheckpointStore = (*memoryCheckpointStore)(nil)
