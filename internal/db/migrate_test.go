package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrations_Embedded(t *testing.T) {
	m := NewMigrator(nil)
	migrations, err := LoadMigrations(m.files)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	for i, mig := range migrations {
		if mig.Version != i+1 {
			t.Errorf("expected version %d at index %d, got %d", i+1, i, mig.Version)
		}
	}
	if !strings.Contains(migrations[0].SQL, "slots_doctor_date_time_key") {
		t.Error("expected slots migration to declare the natural key constraint")
	}
	if !strings.Contains(migrations[1].SQL, "appointments_scheduled_slot_key") {
		t.Error("expected appointments migration to declare the scheduled slot index")
	}
}

func TestLoadMigrations_SortsAndSkips(t *testing.T) {
	files := fstest.MapFS{
		"010_late.sql":  {Data: []byte("SELECT 10")},
		"002_mid.sql":   {Data: []byte("SELECT 2")},
		"001_first.sql": {Data: []byte("SELECT 1")},
		"readme.md":     {Data: []byte("ignored")},
		"notes.sql":     {Data: []byte("ignored, no prefix")},
		"abc_bad.sql":   {Data: []byte("ignored, non numeric")},
	}

	migrations, err := LoadMigrations(files)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	want := []int{1, 2, 10}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("expected version %d, got %d", v, migrations[i].Version)
		}
	}
}

type fakeSnapshot struct {
	value int
}

func (f *fakeSnapshot) Snapshot() func() {
	saved := f.value
	return func() { f.value = saved }
}

func TestMemoryTransactor_RollbackRestores(t *testing.T) {
	tx := NewMemoryTransactor()
	state := &fakeSnapshot{value: 1}
	tx.Register(state)

	boom := errors.New("boom")
	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		state.value = 2
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if state.value != 1 {
		t.Errorf("expected value restored to 1, got %d", state.value)
	}

	err = tx.WithinTx(context.Background(), func(ctx context.Context) error {
		state.value = 3
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.value != 3 {
		t.Errorf("expected committed value 3, got %d", state.value)
	}
}

func TestMemoryTransactor_NestedJoinsOuter(t *testing.T) {
	tx := NewMemoryTransactor()
	state := &fakeSnapshot{value: 1}
	tx.Register(state)

	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		unlock := tx.Lock(ctx)
		unlock()
		return tx.WithinTx(ctx, func(ctx context.Context) error {
			state.value = 5
			return errors.New("inner failure")
		})
	})
	if err == nil {
		t.Fatal("expected error from inner transaction")
	}
	if state.value != 1 {
		t.Errorf("expected outer rollback to restore 1, got %d", state.value)
	}
}
