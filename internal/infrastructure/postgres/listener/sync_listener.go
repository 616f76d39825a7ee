package listener

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const (
	// ChannelSyncRequests carries connection ids that should be re-synced.
	ChannelSyncRequests = "sync_requests"

	reconnectInterval = 5 * time.Second
	pingInterval      = 90 * time.Second
)

var errEmptyConnection = errors.New("sync request without connection id")

// SyncRequest is the NOTIFY payload on ChannelSyncRequests.
type SyncRequest struct {
	ConnectionID string `json:"connection_id"`
	Trigger      string `json:"trigger"`
}

// Dispatcher receives sync requests. Implemented by the scheduler.
type Dispatcher interface {
	DispatchSync(ctx context.Context, connectionID, trigger string) error
}

// Publish asks whichever API instance is listening to sync the connection.
func Publish(ctx context.Context, db *sql.DB, req SyncRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, ChannelSyncRequests, string(payload))
	return err
}

// SyncListener forwards sync requests published by other processes, such as
// the admin CLI, to the local worker pool.
type SyncListener struct {
	connStr    string
	dispatcher Dispatcher
	shutdownCh chan struct{}
	done       chan struct{}
}

func NewSyncListener(connStr string, dispatcher Dispatcher) *SyncListener {
	return &SyncListener{
		connStr:    connStr,
		dispatcher: dispatcher,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening for notifications in a background goroutine
func (l *SyncListener) Start(ctx context.Context) {
	go l.listen(ctx)
	log.Info().Str("channel", ChannelSyncRequests).Msg("sync request listener started")
}

// Stop gracefully shuts down the listener
func (l *SyncListener) Stop() {
	close(l.shutdownCh)
	<-l.done
	log.Info().Msg("sync request listener stopped")
}

func (l *SyncListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			log.Info().Msg("reconnecting sync request listener")
		}
	}
}

func (l *SyncListener) connectAndListen(ctx context.Context) {
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			log.Debug().Msg("sync listener connected")
		case pq.ListenerEventDisconnected:
			log.Warn().Err(err).Msg("sync listener disconnected")
		case pq.ListenerEventReconnected:
			log.Info().Msg("sync listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Warn().Err(err).Msg("sync listener connection attempt failed")
		}
	})
	defer listener.Close()

	if err := listener.Listen(ChannelSyncRequests); err != nil {
		log.Error().Err(err).Str("channel", ChannelSyncRequests).Msg("failed to listen")
		return
	}

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			if n == nil {
				// connection lost
				return
			}
			l.handle(ctx, n.Extra)
		case <-time.After(pingInterval):
			go func() {
				if err := listener.Ping(); err != nil {
					log.Warn().Err(err).Msg("sync listener ping failed")
				}
			}()
		}
	}
}

func (l *SyncListener) handle(ctx context.Context, payload string) {
	req, err := decodeRequest(payload)
	if err != nil {
		log.Warn().Err(err).Str("payload", payload).Msg("ignoring malformed sync request")
		return
	}

	if err := l.dispatcher.DispatchSync(ctx, req.ConnectionID, req.Trigger); err != nil {
		log.Error().Err(err).Str("connection_id", req.ConnectionID).Msg("failed to queue requested sync")
	}
}

// decodeRequest accepts the JSON payload or a bare connection id.
func decodeRequest(payload string) (SyncRequest, error) {
	var req SyncRequest
	if len(payload) > 0 && payload[0] == '{' {
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			return req, err
		}
	} else {
		req.ConnectionID = payload
	}
	if req.ConnectionID == "" {
		return req, errEmptyConnection
	}
	if req.Trigger == "" {
		req.Trigger = "resync"
	}
	return req, nil
}
