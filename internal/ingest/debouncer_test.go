package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectBatch(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case batch := <-d.Batches():
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event batch")
		return nil
	}
}

func TestDebouncer_EmitsAfterSettleWindow(t *testing.T) {
	// Given a debouncer with a short window
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	// When one event arrives
	d.Add(FileEvent{Path: "work/standup.md", Op: OpModify, Time: time.Now()})

	// Then it is emitted after the window settles
	batch := collectBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "work/standup.md", batch[0].Path)
	assert.Equal(t, OpModify, batch[0].Op)
}

func TestDebouncer_CoalescesBurstPerPath(t *testing.T) {
	// Given an editor save burst on one file
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "a.md", Op: OpModify})
	d.Add(FileEvent{Path: "a.md", Op: OpModify})
	d.Add(FileEvent{Path: "a.md", Op: OpModify})
	d.Add(FileEvent{Path: "b.md", Op: OpCreate})

	// Then one event per path survives
	batch := collectBatch(t, d)
	require.Len(t, batch, 2)
	ops := map[string]Operation{}
	for _, ev := range batch {
		ops[ev.Path] = ev.Op
	}
	assert.Equal(t, OpModify, ops["a.md"])
	assert.Equal(t, OpCreate, ops["b.md"])
}

func TestCoalesce_Rules(t *testing.T) {
	tests := []struct {
		name string
		prev Operation
		next Operation
		want Operation
		keep bool
	}{
		{"create then modify is create", OpCreate, OpModify, OpCreate, true},
		{"create then delete cancels out", OpCreate, OpDelete, 0, false},
		{"modify then delete is delete", OpModify, OpDelete, OpDelete, true},
		{"delete then create is modify", OpDelete, OpCreate, OpModify, true},
		{"modify then modify is modify", OpModify, OpModify, OpModify, true},
		{"delete then delete is delete", OpDelete, OpDelete, OpDelete, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, keep := coalesce(tt.prev, tt.next)
			assert.Equal(t, tt.keep, keep)
			if keep {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDebouncer_CreateThenDeleteEmitsNothing(t *testing.T) {
	// Given a file created and deleted within one burst
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "temp.md", Op: OpCreate})
	d.Add(FileEvent{Path: "temp.md", Op: OpDelete})
	d.Add(FileEvent{Path: "keep.md", Op: OpModify})

	// Then the cancelled path is absent from the batch
	batch := collectBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "keep.md", batch[0].Path)
}

func TestDebouncer_StopFlushesPending(t *testing.T) {
	// Given pending events inside a long window
	d := NewDebouncer(time.Hour)
	d.Add(FileEvent{Path: "a.md", Op: OpCreate})

	// When stopping
	d.Stop()

	// Then the pending batch is flushed and the channel closes
	batch := collectBatch(t, d)
	require.Len(t, batch, 1)
	_, open := <-d.Batches()
	assert.False(t, open)
}

func TestDebouncer_StopDuringFlushDoesNotPanic(t *testing.T) {
	// Given windows short enough that the flush timer fires while Stop
	// runs; the channel close must serialize with in-flight sends
	for i := 0; i < 500; i++ {
		d := NewDebouncer(time.Microsecond)
		d.Add(FileEvent{Path: "a.md", Op: OpModify})
		d.Add(FileEvent{Path: "b.md", Op: OpCreate})
		time.Sleep(time.Microsecond)
		d.Stop()
		for range d.Batches() {
		}
	}
}

func TestDebouncer_AddAfterStopIsIgnored(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	d.Stop()

	assert.NotPanics(t, func() {
		d.Add(FileEvent{Path: "late.md", Op: OpModify})
	})
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "modify", OpModify.String())
	assert.Equal(t, "delete", OpDelete.String())
	assert.Equal(t, "unknown", Operation(99).String())
}
