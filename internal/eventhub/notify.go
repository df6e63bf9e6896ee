package eventhub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs"

	"github.com/datakitchen/observability-agent/internal/obslog"
)

// CheckpointNotifier bridges the Event Hubs SDK's own scheduler
// goroutines back into something observable: the vendor scheduler's
// partition goroutines call UpdateCheckpoint from outside the agent's
// ordinary channel-based fan-in, so there is no cooperative-scheduler
// suspension point a watcher could poll to see checkpoint progress.
// This type gives that foreign thread a cheap, non-blocking way to
// publish each checkpoint write to any number of local WebSocket
// observers (a dev dashboard, a debugging session) without ever
// becoming a second source of truth: the memoryCheckpointStore remains
// authoritative, this only mirrors it.
//
// The publish-to-many-non-blocking-subscribers shape follows the same
// "broadcast, skip slow readers" pattern this repo already uses for
// bounded channels elsewhere, expressed over gorilla/websocket
// connections instead of Go channels since the consumers here are
// out-of-process.
type CheckpointNotifier struct {
	logger   *obslog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

// NewCheckpointNotifier constructs an empty notifier with no connected
// clients yet.
func NewCheckpointNotifier(logger *obslog.Logger) *CheckpointNotifier {
	return &CheckpointNotifier{
		logger:  logger,
		clients: make(map[*websocket.Conn]chan []byte),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local debugging endpoint only; not reachable from the
			// ingestion path and carries no credentials, so any origin
			// connecting to the bound loopback/listener address is fine.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// checkpointMessage is the JSON shape pushed to every connected client.
type checkpointMessage struct {
	Namespace     string    `json:"namespace"`
	EventHub      string    `json:"event_hub"`
	ConsumerGroup string    `json:"consumer_group"`
	PartitionID   string    `json:"partition_id"`
	SequenceNumber int64    `json:"sequence_number"`
	ObservedAt    time.Time `json:"observed_at"`
}

// Handler upgrades incoming HTTP requests to WebSocket connections and
// registers each as a checkpoint observer until it disconnects.
func (n *CheckpointNotifier) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := n.upgrader.Upgrade(w, r, nil)
		if err != nil {
			n.logger.WithContext(r.Context()).WithError(err).Warn("checkpoint notifier upgrade failed")
			return
		}
		n.register(conn)
	}
}

func (n *CheckpointNotifier) register(conn *websocket.Conn) {
	outbound := make(chan []byte, 16)
	n.mu.Lock()
	n.clients[conn] = outbound
	n.mu.Unlock()

	go func() {
		defer func() {
			n.mu.Lock()
			delete(n.clients, conn)
			n.mu.Unlock()
			conn.Close()
		}()
		for msg := range outbound {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	// Drain (and discard) client reads so a dropped connection is
	// detected promptly; this endpoint is publish-only.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				n.mu.Lock()
				if ch, ok := n.clients[conn]; ok {
					delete(n.clients, conn)
					close(ch)
				}
				n.mu.Unlock()
				return
			}
		}
	}()
}

// Broadcast publishes checkpoint to every connected client, never
// blocking: a client whose outbound buffer is full misses this message
// but stays connected.
func (n *CheckpointNotifier) Broadcast(checkpoint azeventhubs.Checkpoint) {
	msg, err := json.Marshal(checkpointMessage{
		Namespace:      checkpoint.FullyQualifiedNamespace,
		EventHub:       checkpoint.EventHubName,
		ConsumerGroup:  checkpoint.ConsumerGroup,
		PartitionID:    checkpoint.PartitionID,
		SequenceNumber: derefInt64(checkpoint.SequenceNumber),
		ObservedAt:     time.Now().UTC(),
	})
	if err != nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for conn, ch := range n.clients {
		select {
		case ch <- msg:
		default:
			n.logger.Warn("dropping checkpoint notification for slow websocket client")
			_ = conn
		}
	}
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

// Server serves the checkpoint-notification WebSocket endpoint on its
// own listener, independent of agentmetrics' /metrics server and any
// per-tool HTTP client traffic.
type Server struct {
	httpServer *http.Server
}

// NewNotifyServer builds (but does not start) a "/checkpoints"
// WebSocket listener bound to addr.
func NewNotifyServer(addr string, notifier *CheckpointNotifier) *Server {
	mux := http.NewServeMux()
	mux.Handle("/checkpoints", notifier.Handler())
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
