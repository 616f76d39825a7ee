package listener

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	calls [][2]string
	err   error
}

func (d *recordingDispatcher) DispatchSync(ctx context.Context, connectionID, trigger string) error {
	d.calls = append(d.calls, [2]string{connectionID, trigger})
	return d.err
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    SyncRequest
		wantErr bool
	}{
		{"json", `{"connection_id":"C1","trigger":"admin"}`, SyncRequest{ConnectionID: "C1", Trigger: "admin"}, false},
		{"json without trigger", `{"connection_id":"C1"}`, SyncRequest{ConnectionID: "C1", Trigger: "resync"}, false},
		{"bare id", "C2", SyncRequest{ConnectionID: "C2", Trigger: "resync"}, false},
		{"empty", "", SyncRequest{}, true},
		{"broken json", `{"connection_id":`, SyncRequest{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeRequest(tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSyncListener_Handle(t *testing.T) {
	d := &recordingDispatcher{}
	l := NewSyncListener("", d)

	l.handle(context.Background(), `{"connection_id":"C1","trigger":"admin"}`)
	l.handle(context.Background(), "")

	require.Len(t, d.calls, 1)
	assert.Equal(t, [2]string{"C1", "admin"}, d.calls[0])
}

func TestSyncListener_HandleDispatchError(t *testing.T) {
	d := &recordingDispatcher{err: errors.New("queue full")}
	l := NewSyncListener("", d)

	assert.NotPanics(t, func() { l.handle(context.Background(), "C1") })
	assert.Len(t, d.calls, 1)
}
