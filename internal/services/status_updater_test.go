package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/models"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/pkg/logger"
)

type statusRow struct {
	status string
	detail string
}

type memoryStatusStore struct {
	mu   sync.Mutex
	rows map[string]statusRow
	err  error
	// gate, when set, holds Begin until it is closed
	gate chan struct{}
}

func (m *memoryStatusStore) Begin(_ context.Context, id, status, prefix string) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id] = statusRow{status: status, detail: prefix}
	return m.err
}

func (m *memoryStatusStore) UpdateStatus(ctx context.Context, id, status, detail string) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("write without deadline")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id] = statusRow{status: status, detail: detail}
	return m.err
}

func TestStatusUpdaterWritesEveryOutcome(t *testing.T) {
	store := &memoryStatusStore{rows: map[string]statusRow{}}
	updater := NewStatusUpdater(store, time.Second, logger.Discard())
	defer updater.Close()

	updater.MarkPending(context.Background(), "d-1", "0123456789abcdefghijKLMNOP")
	updater.Wait()
	assert.Equal(t, statusRow{models.DeliveryPending, "0123456789abcdefghij..."}, store.rows["d-1"])

	updater.MarkDelivered(context.Background(), "d-1")
	updater.MarkAbandoned(context.Background(), "d-2", "not loaded")
	updater.MarkFailed(context.Background(), "d-3", "SyntaxError")
	updater.Wait()

	assert.Equal(t, statusRow{models.DeliveryDelivered, ""}, store.rows["d-1"])
	assert.Equal(t, statusRow{models.DeliveryAbandoned, "not loaded"}, store.rows["d-2"])
	assert.Equal(t, statusRow{models.DeliveryFailed, "SyntaxError"}, store.rows["d-3"])
}

func TestStatusUpdaterSurvivesCancelledCaller(t *testing.T) {
	store := &memoryStatusStore{rows: map[string]statusRow{}}
	updater := NewStatusUpdater(store, time.Second, logger.Discard())
	defer updater.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	updater.MarkDelivered(ctx, "d-1")
	updater.Wait()

	assert.Equal(t, models.DeliveryDelivered, store.rows["d-1"].status)
}

func TestStatusUpdaterLogsStoreErrors(t *testing.T) {
	store := &memoryStatusStore{rows: map[string]statusRow{}, err: errors.New("db down")}
	updater := NewStatusUpdater(store, time.Second, logger.Discard())
	defer updater.Close()

	assert.NotPanics(t, func() {
		updater.MarkFailed(context.Background(), "d-1", "boom")
		updater.Wait()
	})
}

func TestStatusUpdaterWithoutStore(t *testing.T) {
	updater := NewStatusUpdater(nil, 0, logger.Discard())
	assert.NotPanics(t, func() {
		updater.MarkPending(context.Background(), "d-1", "abc")
		updater.MarkDelivered(context.Background(), "d-1")
		updater.Wait()
		updater.Close()
	})
}

func TestStatusUpdaterKeepsCallOrder(t *testing.T) {
	store := &memoryStatusStore{rows: map[string]statusRow{}, gate: make(chan struct{})}
	updater := NewStatusUpdater(store, time.Second, logger.Discard())
	defer updater.Close()

	updater.MarkPending(context.Background(), "d-1", "abc123")
	updater.MarkDelivered(context.Background(), "d-1")

	time.Sleep(20 * time.Millisecond)
	store.mu.Lock()
	_, written := store.rows["d-1"]
	store.mu.Unlock()
	assert.False(t, written, "delivered must wait for the pending write")

	close(store.gate)
	updater.Wait()
	assert.Equal(t, models.DeliveryDelivered, store.rows["d-1"].status)
}

func TestStatusUpdaterCloseDrainsQueue(t *testing.T) {
	store := &memoryStatusStore{rows: map[string]statusRow{}}
	updater := NewStatusUpdater(store, time.Second, logger.Discard())

	updater.MarkFailed(context.Background(), "d-1", "boom")
	updater.Close()
	assert.Equal(t, models.DeliveryFailed, store.rows["d-1"].status)

	updater.MarkDelivered(context.Background(), "d-1")
	updater.Close()
	assert.Equal(t, models.DeliveryFailed, store.rows["d-1"].status, "writes after Close are dropped")
}
