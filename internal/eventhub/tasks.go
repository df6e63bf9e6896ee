package eventhub

import (
	"context"
	"fmt"

	"github.com/datakitchen/observability-agent/internal/config"
	"github.com/datakitchen/observability-agent/internal/events"
	"github.com/datakitchen/observability-agent/internal/obslog"
)

// ReceiveTask drains the Bridge's record channel and dispatches each
// record to the first applicable parser, forwarding every resulting
// event onto the outbound sender channel. Grounded on
// original_source/agents/eventhub/tasks.py's EventHubReceiveTask.
type ReceiveTask struct {
	parsers []Parser
	out     chan<- *events.Event
	logger  *obslog.Logger
}

// NewReceiveTask builds the parser set from cfg.MessageTypes, always
// including UnknownStatusParser so status-less records are dropped
// quietly rather than falling through every named parser.
func NewReceiveTask(cfg config.EventHubsConfig, componentTool string, out chan<- *events.Event, logger *obslog.Logger) (*ReceiveTask, error) {
	parsers := []Parser{UnknownStatusParser{}}
	for _, name := range cfg.MessageTypes {
		switch name {
		case "ADF":
			parsers = append(parsers, ADFParser{ComponentTool: componentTool})
		default:
			return nil, fmt.Errorf("unknown eventhub message type %q", name)
		}
	}
	return &ReceiveTask{parsers: parsers, out: out, logger: logger}, nil
}

// Execute implements the runtimecore channel-consumer handler shape:
// func(context.Context, Record) error.
func (t *ReceiveTask) Execute(ctx context.Context, record Record) error {
	for _, parser := range t.parsers {
		if !parser.Applies(record) {
			continue
		}
		for _, event := range parser.Publish(record) {
			select {
			case <-ctx.Done():
				return nil
			case t.out <- event:
			}
		}
		return nil
	}
	t.logger.WithContext(ctx).WithFields(map[string]any{"category": record["category"]}).Warn("no parser applied to eventhub record")
	return nil
}
