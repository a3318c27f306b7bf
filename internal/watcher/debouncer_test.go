package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func awaitBatch(t *testing.T, d *Debouncer) []Event {
	t.Helper()
	select {
	case batch, ok := <-d.Output():
		require.True(t, ok, "output closed before a batch arrived")
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for debounced batch")
		return nil
	}
}

func TestDebouncer_SingleEventPassesThrough(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(Event{Path: "note.md", Op: OpCreate})

	batch := awaitBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, Event{Path: "note.md", Op: OpCreate}, batch[0])
}

func TestDebouncer_BurstCoalesces(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	// A save burst: several writes to the same file in quick succession.
	for i := 0; i < 5; i++ {
		d.Add(Event{Path: "note.md", Op: OpModify})
	}

	batch := awaitBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpModify, batch[0].Op)
}

func TestDebouncer_CreateThenModifyKeepsCreate(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(Event{Path: "new.md", Op: OpCreate})
	d.Add(Event{Path: "new.md", Op: OpModify})

	batch := awaitBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpCreate, batch[0].Op)
}

func TestDebouncer_CreateThenDeleteCancels(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	// An editor temp file that appears and vanishes within the window,
	// plus one real change so a batch still arrives.
	d.Add(Event{Path: "tmp.md", Op: OpCreate})
	d.Add(Event{Path: "tmp.md", Op: OpDelete})
	d.Add(Event{Path: "real.md", Op: OpModify})

	batch := awaitBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "real.md", batch[0].Path)
}

func TestDebouncer_AllEventsCancelEmitsNothing(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(Event{Path: "tmp.md", Op: OpCreate})
	d.Add(Event{Path: "tmp.md", Op: OpDelete})

	select {
	case batch := <-d.Output():
		t.Fatalf("expected no batch, got %v", batch)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncer_ModifyThenDeleteKeepsDelete(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(Event{Path: "old.md", Op: OpModify})
	d.Add(Event{Path: "old.md", Op: OpDelete})

	batch := awaitBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpDelete, batch[0].Op)
}

func TestDebouncer_DeleteThenCreateBecomesModify(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	// Atomic save pattern: the file is replaced on disk.
	d.Add(Event{Path: "note.md", Op: OpDelete})
	d.Add(Event{Path: "note.md", Op: OpCreate})

	batch := awaitBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpModify, batch[0].Op)
}

func TestDebouncer_BatchSortedByPath(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(Event{Path: "c.md", Op: OpModify})
	d.Add(Event{Path: "a.md", Op: OpCreate})
	d.Add(Event{Path: "b.md", Op: OpDelete})

	batch := awaitBatch(t, d)
	require.Len(t, batch, 3)
	assert.Equal(t, "a.md", batch[0].Path)
	assert.Equal(t, "b.md", batch[1].Path)
	assert.Equal(t, "c.md", batch[2].Path)
}

func TestDebouncer_HoldsBatchForBusyConsumer(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	// First batch fills the output buffer; nobody is reading yet.
	d.Add(Event{Path: "a.md", Op: OpModify})
	time.Sleep(80 * time.Millisecond)

	// Second batch cannot be delivered and must be held, not dropped.
	d.Add(Event{Path: "b.md", Op: OpModify})
	time.Sleep(80 * time.Millisecond)

	first := awaitBatch(t, d)
	require.Len(t, first, 1)
	assert.Equal(t, "a.md", first[0].Path)

	second := awaitBatch(t, d)
	require.Len(t, second, 1)
	assert.Equal(t, "b.md", second[0].Path)
}

func TestDebouncer_StopClosesOutput(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)

	d.Stop()

	select {
	case _, ok := <-d.Output():
		assert.False(t, ok, "output should be closed")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for close")
	}

	// Add after Stop must not panic, and Stop is idempotent.
	d.Add(Event{Path: "late.md", Op: OpModify})
	d.Stop()
}
