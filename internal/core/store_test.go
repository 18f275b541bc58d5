package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/sheetd/internal/sheet"
)

func testTable(t *testing.T) *sheet.Table {
	t.Helper()
	return sheet.MustNew([]string{"name", "qty"}, [][]sheet.Value{
		{sheet.Text("apple"), sheet.Number(3)},
		{sheet.Text("pear"), sheet.Number(5)},
		{sheet.Text("plum"), sheet.Empty()},
	})
}

func TestStore_CreateAndGet(t *testing.T) {
	st := NewStore(time.Second, 0)
	snap := st.Create(testTable(t), "fruit.csv")

	if snap.ID == "" {
		t.Fatal("Create returned empty id")
	}
	if snap.Revision != 0 {
		t.Errorf("Revision = %d, want 0", snap.Revision)
	}

	got, err := st.Get(snap.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.FileName != "fruit.csv" || !got.Table.Equal(snap.Table) {
		t.Errorf("Get returned %+v", got)
	}

	if _, err := st.Get("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_WithLockCommits(t *testing.T) {
	st := NewStore(time.Second, 0)
	id := st.Create(testTable(t), "f.csv").ID
	ctx := context.Background()

	snap, err := st.WithLock(ctx, id, func(cur Snapshot) (*Change, error) {
		return &Change{Table: cur.Table.WithCell(0, 1, sheet.Number(4)), Kind: ChangeEdit}, nil
	})
	if err != nil {
		t.Fatalf("WithLock failed: %v", err)
	}
	if snap.Revision != 1 {
		t.Errorf("Revision = %d, want 1", snap.Revision)
	}
	if snap.ShapeRevision != 0 {
		t.Errorf("ShapeRevision = %d, want 0 for a same-shape change", snap.ShapeRevision)
	}

	snap, err = st.WithLock(ctx, id, func(Snapshot) (*Change, error) { return nil, nil })
	if err != nil {
		t.Fatalf("WithLock failed: %v", err)
	}
	if snap.Revision != 1 {
		t.Errorf("nil change bumped revision to %d", snap.Revision)
	}

	snap, err = st.WithLock(ctx, id, func(cur Snapshot) (*Change, error) {
		return &Change{Table: sheet.MustNew([]string{"name"}, nil), Kind: ChangeInstruction}, nil
	})
	if err != nil {
		t.Fatalf("WithLock failed: %v", err)
	}
	if snap.Revision != 2 || snap.ShapeRevision != 2 {
		t.Errorf("after reshape Revision = %d, ShapeRevision = %d, want 2, 2", snap.Revision, snap.ShapeRevision)
	}

	hist, err := st.History(id)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(hist) != 2 || hist[0].Revision != 2 || !hist[0].Structural || hist[1].Structural {
		t.Errorf("History = %+v", hist)
	}
}

func TestStore_WithLockReleasesOnFailure(t *testing.T) {
	st := NewStore(100*time.Millisecond, 0)
	id := st.Create(testTable(t), "f.csv").ID
	ctx := context.Background()
	boom := errors.New("boom")

	if _, err := st.WithLock(ctx, id, func(Snapshot) (*Change, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("WithLock error = %v, want boom", err)
	}

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_, _ = st.WithLock(ctx, id, func(Snapshot) (*Change, error) { panic("fn exploded") })
	}()

	snap, err := st.WithLock(ctx, id, func(Snapshot) (*Change, error) { return nil, nil })
	if err != nil {
		t.Fatalf("lock not released after failure: %v", err)
	}
	if snap.Revision != 0 {
		t.Errorf("failed calls committed: revision %d", snap.Revision)
	}
}

func TestStore_LockTimeout(t *testing.T) {
	st := NewStore(50*time.Millisecond, 0)
	id := st.Create(testTable(t), "f.csv").ID

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = st.WithLock(context.Background(), id, func(Snapshot) (*Change, error) {
			close(held)
			<-release
			return nil, nil
		})
	}()
	<-held
	defer close(release)

	_, err := st.WithLock(context.Background(), id, func(Snapshot) (*Change, error) {
		t.Error("fn ran while the lock was held")
		return nil, nil
	})
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("error = %v, want ErrLockTimeout", err)
	}
}

func TestStore_SerializesMutations(t *testing.T) {
	st := NewStore(5*time.Second, 0)
	id := st.Create(testTable(t), "f.csv").ID

	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
		wg       sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.WithLock(context.Background(), id, func(cur Snapshot) (*Change, error) {
				mu.Lock()
				inFlight++
				if inFlight > maxSeen {
					maxSeen = inFlight
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)
				qty, _ := cur.Table.Cell(0, 1).Interface().(float64)

				mu.Lock()
				inFlight--
				mu.Unlock()
				return &Change{Table: cur.Table.WithCell(0, 1, sheet.Number(qty+1))}, nil
			})
			if err != nil {
				t.Errorf("WithLock failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("observed %d concurrent mutations, want 1", maxSeen)
	}
	snap, _ := st.Get(id)
	if snap.Revision != 20 {
		t.Errorf("Revision = %d, want 20", snap.Revision)
	}
	if qty, _ := snap.Table.Cell(0, 1).Interface().(float64); qty != 23 {
		t.Errorf("qty = %v, want 23 (no lost updates)", qty)
	}
}

func TestStore_ExpireDuringLockDiscardsResult(t *testing.T) {
	st := NewStore(time.Second, 0)
	id := st.Create(testTable(t), "f.csv").ID

	_, err := st.WithLock(context.Background(), id, func(cur Snapshot) (*Change, error) {
		if !st.Expire(id) {
			t.Error("Expire returned false for a live session")
		}
		return &Change{Table: cur.Table.WithCell(0, 0, sheet.Text("late"))}, nil
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("error = %v, want ErrSessionNotFound", err)
	}
	if st.Expire(id) {
		t.Error("second Expire returned true")
	}
	if st.Len() != 0 {
		t.Errorf("Len = %d, want 0", st.Len())
	}
}

func TestStore_Sweep(t *testing.T) {
	st := NewStore(time.Second, 0)
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return clock }

	idle := st.Create(testTable(t), "idle.csv").ID
	busy := st.Create(testTable(t), "busy.csv").ID

	clock = clock.Add(30 * time.Minute)
	fresh := st.Create(testTable(t), "fresh.csv").ID

	release, err := st.Enqueue(context.Background(), busy)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	defer release()

	clock = clock.Add(45 * time.Minute)
	expired := st.Sweep(time.Hour)

	if len(expired) != 1 || expired[0] != idle {
		t.Errorf("Sweep expired %v, want [%s]", expired, idle)
	}
	for _, id := range []string{busy, fresh} {
		if _, err := st.Get(id); err != nil {
			t.Errorf("session %s swept unexpectedly: %v", id, err)
		}
	}
}

func TestStore_EnqueueOrdersInstructions(t *testing.T) {
	st := NewStore(time.Second, 0)
	id := st.Create(testTable(t), "f.csv").ID

	release, err := st.Enqueue(context.Background(), id)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := st.Enqueue(ctx, id); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Enqueue error = %v, want DeadlineExceeded", err)
	}

	release()
	release() // second call is a no-op

	again, err := st.Enqueue(context.Background(), id)
	if err != nil {
		t.Fatalf("Enqueue after release failed: %v", err)
	}
	again()
}

func TestHistory_Bounded(t *testing.T) {
	h := newHistory(3)
	for i := int64(1); i <= 5; i++ {
		h.add(HistoryEntry{Revision: i})
	}
	got := h.list()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []int64{5, 4, 3} {
		if got[i].Revision != want {
			t.Errorf("entry %d revision = %d, want %d", i, got[i].Revision, want)
		}
	}
}
