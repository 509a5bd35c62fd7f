package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medinet/medinet/internal/availability"
	"github.com/medinet/medinet/internal/db"
	redisclient "github.com/medinet/medinet/internal/redis"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// failingRepo wraps the memory repository and fails selected writes.
type failingRepo struct {
	*MemoryRepository
	createErr error
	updateErr error
}

func (f *failingRepo) Create(ctx context.Context, a *Appointment) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.MemoryRepository.Create(ctx, a)
}

func (f *failingRepo) Update(ctx context.Context, a *Appointment) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.MemoryRepository.Update(ctx, a)
}

type busyLocker struct{}

func (busyLocker) WithLocks(context.Context, []string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type testEnv struct {
	store      *availability.Store
	repo       *failingRepo
	reconciler *Reconciler
	clock      *fakeClock
	doctor     uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, time.January, 10, 8, 0, 0, 0, time.UTC)}
	tx := db.NewMemoryTransactor()
	slotRepo := availability.NewMemoryRepository(tx)
	repo := &failingRepo{MemoryRepository: NewMemoryRepository(tx)}
	usage := NewSlotUsage(repo)
	store := availability.NewStore(slotRepo, tx, usage, availability.WithClock(clock.Now))
	rec := NewReconciler(store, repo, tx, nil, WithClock(clock.Now), WithLocation(time.UTC))

	return &testEnv{
		store:      store,
		repo:       repo,
		reconciler: rec,
		clock:      clock,
		doctor:     uuid.New(),
	}
}

func mustDate(t *testing.T, s string) availability.Date {
	t.Helper()
	d, err := availability.ParseDate(s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}

func mustTime(t *testing.T, s string) availability.TimeOfDay {
	t.Helper()
	tod, err := availability.ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return tod
}

func (e *testEnv) bulk(t *testing.T, from, to string, times ...string) {
	t.Helper()
	var tods []availability.TimeOfDay
	for _, s := range times {
		tods = append(tods, mustTime(t, s))
	}
	if _, err := e.store.CreateSlotsBulk(context.Background(), e.doctor, mustDate(t, from), mustDate(t, to), tods); err != nil {
		t.Fatalf("bulk create: %v", err)
	}
}

func (e *testEnv) book(t *testing.T, patient uuid.UUID, date, clock string) (*AppointmentDetail, error) {
	t.Helper()
	return e.reconciler.Book(context.Background(), BookRequest{
		DoctorID:  e.doctor,
		PatientID: patient,
		Date:      mustDate(t, date),
		Time:      mustTime(t, clock),
		Type:      "Consulta",
	})
}

func (e *testEnv) isOpen(t *testing.T, date, clock string) bool {
	t.Helper()
	d := mustDate(t, date)
	open, err := e.store.ListOpenSlots(context.Background(), e.doctor, &d)
	if err != nil {
		t.Fatalf("list open slots: %v", err)
	}
	want := mustTime(t, clock)
	for _, s := range open {
		if s.Time == want {
			return true
		}
	}
	return false
}

func TestReconciler_BookCancelScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d1, d2 := mustDate(t, "2024-01-15"), mustDate(t, "2024-01-16")
	res, err := env.store.CreateSlotsBulk(ctx, env.doctor, d1, d2, []availability.TimeOfDay{mustTime(t, "09:00"), mustTime(t, "09:30")})
	if err != nil {
		t.Fatalf("bulk create: %v", err)
	}
	if res.Created != 4 {
		t.Fatalf("expected 4 slots created, got %d", res.Created)
	}
	for _, s := range res.Slots {
		if !s.IsOpen {
			t.Errorf("expected slot %s to be open", s.Key())
		}
	}

	patient := uuid.New()
	appt, err := env.book(t, patient, "2024-01-15", "09:00")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appt.Status != StatusScheduled || appt.DisplayStatus != StatusScheduled {
		t.Errorf("expected scheduled, got %s/%s", appt.Status, appt.DisplayStatus)
	}
	if env.isOpen(t, "2024-01-15", "09:00") {
		t.Error("expected booked slot to be closed")
	}

	if _, err := env.book(t, uuid.New(), "2024-01-15", "09:00"); !errors.Is(err, availability.ErrSlotAlreadyBooked) {
		t.Errorf("expected ErrSlotAlreadyBooked, got %v", err)
	}

	cancelled, err := env.reconciler.Cancel(ctx, appt.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled || cancelled.CancelledAt == nil {
		t.Errorf("expected cancelled with timestamp, got %s", cancelled.Status)
	}
	if !env.isOpen(t, "2024-01-15", "09:00") {
		t.Error("expected cancelled slot to be reopened")
	}

	if _, err := env.reconciler.Cancel(ctx, appt.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on second cancel, got %v", err)
	}
}

func TestReconciler_BookErrors(t *testing.T) {
	env := newTestEnv(t)
	env.bulk(t, "2024-01-15", "2024-01-15", "09:00")

	if _, err := env.book(t, uuid.New(), "2024-01-15", "10:00"); !errors.Is(err, availability.ErrSlotNotFound) {
		t.Errorf("expected ErrSlotNotFound, got %v", err)
	}

	_, err := env.reconciler.Book(context.Background(), BookRequest{
		DoctorID: env.doctor,
		Date:     mustDate(t, "2024-01-15"),
		Time:     mustTime(t, "09:00"),
		Type:     "Consulta",
	})
	if !errors.Is(err, ErrInvalidAppointment) {
		t.Errorf("expected ErrInvalidAppointment without patient, got %v", err)
	}
	if !env.isOpen(t, "2024-01-15", "09:00") {
		t.Error("expected slot to stay open after rejected request")
	}
}

func TestReconciler_ConcurrentBookHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	env.bulk(t, "2024-01-15", "2024-01-15", "09:00")

	const attempts = 16
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.book(t, uuid.New(), "2024-01-15", "09:00")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, availability.ErrSlotAlreadyBooked):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one successful booking, got %d", wins)
	}

	list, err := env.reconciler.ListByDoctor(context.Background(), env.doctor, nil, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected one stored appointment, got %d", len(list))
	}
}

func TestReconciler_BookRollsBackSlotClaim(t *testing.T) {
	env := newTestEnv(t)
	env.bulk(t, "2024-01-15", "2024-01-15", "09:00")

	boom := errors.New("insert failed")
	env.repo.createErr = boom

	if _, err := env.book(t, uuid.New(), "2024-01-15", "09:00"); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if !env.isOpen(t, "2024-01-15", "09:00") {
		t.Error("expected slot claim to be rolled back")
	}

	env.repo.createErr = nil
	if _, err := env.book(t, uuid.New(), "2024-01-15", "09:00"); err != nil {
		t.Errorf("expected booking to succeed after recovery, got %v", err)
	}
}

func TestReconciler_RescheduleRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.bulk(t, "2024-01-15", "2024-01-16", "09:00", "09:30")

	appt, err := env.book(t, uuid.New(), "2024-01-15", "09:00")
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	moved, err := env.reconciler.Reschedule(ctx, appt.ID, mustDate(t, "2024-01-16"), mustTime(t, "09:30"))
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if moved.Date.String() != "2024-01-16" || moved.Time.String() != "09:30" {
		t.Errorf("expected 2024-01-16 09:30, got %s %s", moved.Date, moved.Time)
	}
	if !env.isOpen(t, "2024-01-15", "09:00") {
		t.Error("expected old slot to be reopened")
	}
	if env.isOpen(t, "2024-01-16", "09:30") {
		t.Error("expected new slot to be closed")
	}

	if _, err := env.reconciler.Reschedule(ctx, appt.ID, mustDate(t, "2024-01-15"), mustTime(t, "09:00")); err != nil {
		t.Fatalf("reschedule back: %v", err)
	}

	want := map[string]bool{
		"2024-01-15 09:00": false,
		"2024-01-15 09:30": true,
		"2024-01-16 09:00": true,
		"2024-01-16 09:30": true,
	}
	for k, open := range want {
		if got := env.isOpen(t, k[:10], k[11:]); got != open {
			t.Errorf("slot %s: expected open=%v, got %v", k, open, got)
		}
	}
}

func TestReconciler_RescheduleFailureLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.bulk(t, "2024-01-15", "2024-01-15", "09:00", "09:30", "10:00")

	appt, err := env.book(t, uuid.New(), "2024-01-15", "09:00")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := env.book(t, uuid.New(), "2024-01-15", "09:30"); err != nil {
		t.Fatalf("book second: %v", err)
	}

	_, err = env.reconciler.Reschedule(ctx, appt.ID, mustDate(t, "2024-01-15"), mustTime(t, "09:30"))
	if !errors.Is(err, availability.ErrSlotAlreadyBooked) {
		t.Errorf("expected ErrSlotAlreadyBooked, got %v", err)
	}
	_, err = env.reconciler.Reschedule(ctx, appt.ID, mustDate(t, "2024-01-15"), mustTime(t, "11:00"))
	if !errors.Is(err, availability.ErrSlotNotFound) {
		t.Errorf("expected ErrSlotNotFound, got %v", err)
	}

	env.repo.updateErr = errors.New("update failed")
	if _, err := env.reconciler.Reschedule(ctx, appt.ID, mustDate(t, "2024-01-15"), mustTime(t, "10:00")); err == nil {
		t.Error("expected injected update failure")
	}
	env.repo.updateErr = nil

	if env.isOpen(t, "2024-01-15", "09:00") {
		t.Error("expected original slot to remain closed")
	}
	if !env.isOpen(t, "2024-01-15", "10:00") {
		t.Error("expected target slot to remain open")
	}
	got, err := env.reconciler.Get(ctx, appt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Time.String() != "09:00" {
		t.Errorf("expected appointment unchanged at 09:00, got %s", got.Time)
	}
}

func TestReconciler_RescheduleSameSlotIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.bulk(t, "2024-01-15", "2024-01-15", "09:00")

	appt, err := env.book(t, uuid.New(), "2024-01-15", "09:00")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	got, err := env.reconciler.Reschedule(context.Background(), appt.ID, appt.Date, appt.Time)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if got.SlotKey() != appt.SlotKey() {
		t.Errorf("expected unchanged slot, got %s", got.SlotKey())
	}
	if env.isOpen(t, "2024-01-15", "09:00") {
		t.Error("expected slot to stay closed")
	}
}

func TestReconciler_TerminalStatesAreSticky(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.bulk(t, "2024-01-15", "2024-01-15", "09:00", "09:30")

	appt, err := env.book(t, uuid.New(), "2024-01-15", "09:00")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := env.reconciler.Cancel(ctx, appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := env.reconciler.Reschedule(ctx, appt.ID, mustDate(t, "2024-01-15"), mustTime(t, "09:30")); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on reschedule, got %v", err)
	}
	if _, err := env.reconciler.Cancel(ctx, appt.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on cancel, got %v", err)
	}
	if _, err := env.reconciler.MarkNoShow(ctx, appt.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on no-show, got %v", err)
	}

	if _, err := env.reconciler.Cancel(ctx, uuid.New()); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestReconciler_MarkNoShow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.bulk(t, "2024-01-15", "2024-01-15", "09:00")

	appt, err := env.book(t, uuid.New(), "2024-01-15", "09:00")
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	if _, err := env.reconciler.MarkNoShow(ctx, appt.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState before start, got %v", err)
	}

	env.clock.Set(time.Date(2024, time.January, 15, 9, 15, 0, 0, time.UTC))

	// past appointments display as completed and can no longer move
	got, err := env.reconciler.Get(ctx, appt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DisplayStatus != StatusCompleted {
		t.Errorf("expected completed, got %s", got.DisplayStatus)
	}
	if _, err := env.reconciler.Cancel(ctx, appt.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState cancelling a past appointment, got %v", err)
	}

	noShow, err := env.reconciler.MarkNoShow(ctx, appt.ID)
	if err != nil {
		t.Fatalf("mark no-show: %v", err)
	}
	if noShow.Status != StatusNoShow || noShow.DisplayStatus != StatusNoShow {
		t.Errorf("expected no_show, got %s/%s", noShow.Status, noShow.DisplayStatus)
	}
	if env.isOpen(t, "2024-01-15", "09:00") {
		t.Error("expected slot to stay closed after no-show")
	}
	if _, err := env.reconciler.MarkNoShow(ctx, appt.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on second no-show, got %v", err)
	}
}

func TestReconciler_SlotInUseBlocksDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.bulk(t, "2024-01-15", "2024-01-15", "09:00")

	appt, err := env.book(t, uuid.New(), "2024-01-15", "09:00")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	slot, err := env.store.GetSlotByKey(ctx, appt.SlotKey())
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}

	if err := env.store.DeleteSlot(ctx, slot.ID); !errors.Is(err, availability.ErrSlotInUse) {
		t.Errorf("expected ErrSlotInUse, got %v", err)
	}
	if _, err := env.store.UpdateSlot(ctx, slot.ID, nil, ptr(mustTime(t, "10:00"))); !errors.Is(err, availability.ErrSlotInUse) {
		t.Errorf("expected ErrSlotInUse on move, got %v", err)
	}

	if _, err := env.reconciler.Cancel(ctx, appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := env.store.DeleteSlot(ctx, slot.ID); err != nil {
		t.Errorf("expected delete after cancel to succeed, got %v", err)
	}
}

func TestReconciler_MovedNoShowSlotIsBookable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.bulk(t, "2024-01-15", "2024-01-15", "09:00")

	appt, err := env.book(t, uuid.New(), "2024-01-15", "09:00")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	env.clock.Set(time.Date(2024, time.January, 15, 9, 30, 0, 0, time.UTC))
	if _, err := env.reconciler.MarkNoShow(ctx, appt.ID); err != nil {
		t.Fatalf("mark no-show: %v", err)
	}

	slot, err := env.store.GetSlotByKey(ctx, appt.SlotKey())
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	moved, err := env.store.UpdateSlot(ctx, slot.ID, ptr(mustDate(t, "2024-02-01")), nil)
	if err != nil {
		t.Fatalf("move slot: %v", err)
	}
	if !moved.IsOpen {
		t.Error("expected moved slot to be open")
	}
	if _, err := env.book(t, uuid.New(), "2024-02-01", "09:00"); err != nil {
		t.Errorf("expected moved slot to be bookable, got %v", err)
	}
}

func TestReconciler_PastAppointmentHoldsSlot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.bulk(t, "2024-01-15", "2024-01-15", "09:00")

	appt, err := env.book(t, uuid.New(), "2024-01-15", "09:00")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	env.clock.Set(time.Date(2024, time.January, 16, 9, 0, 0, 0, time.UTC))

	slot, err := env.store.GetSlotByKey(ctx, appt.SlotKey())
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if err := env.store.DeleteSlot(ctx, slot.ID); !errors.Is(err, availability.ErrSlotInUse) {
		t.Fatalf("expected ErrSlotInUse deleting a completed appointment's slot, got %v", err)
	}
	if _, err := env.store.UpdateSlot(ctx, slot.ID, nil, ptr(mustTime(t, "10:00"))); !errors.Is(err, availability.ErrSlotInUse) {
		t.Errorf("expected ErrSlotInUse moving a completed appointment's slot, got %v", err)
	}

	// once the appointment is closed out the slot can be recreated and booked
	if _, err := env.reconciler.MarkNoShow(ctx, appt.ID); err != nil {
		t.Fatalf("mark no-show: %v", err)
	}
	if err := env.store.DeleteSlot(ctx, slot.ID); err != nil {
		t.Fatalf("delete slot: %v", err)
	}
	if _, err := env.store.CreateSlot(ctx, env.doctor, slot.Date, slot.Time); err != nil {
		t.Fatalf("recreate slot: %v", err)
	}
	if !env.isOpen(t, "2024-01-15", "09:00") {
		t.Fatal("expected recreated slot to be open")
	}
	if _, err := env.book(t, uuid.New(), "2024-01-15", "09:00"); err != nil {
		t.Errorf("expected recreated slot to be bookable, got %v", err)
	}
}

func TestReconciler_LockBusy(t *testing.T) {
	env := newTestEnv(t)
	env.bulk(t, "2024-01-15", "2024-01-15", "09:00")
	env.reconciler.locker = busyLocker{}

	if _, err := env.book(t, uuid.New(), "2024-01-15", "09:00"); !errors.Is(err, ErrSlotBusy) {
		t.Errorf("expected ErrSlotBusy, got %v", err)
	}
	if !env.isOpen(t, "2024-01-15", "09:00") {
		t.Error("expected slot to stay open")
	}
}

func TestReconciler_EventsAndListing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.bulk(t, "2024-01-15", "2024-01-16", "09:00")

	patient := uuid.New()
	first, err := env.book(t, patient, "2024-01-16", "09:00")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := env.book(t, patient, "2024-01-15", "09:00"); err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := env.reconciler.Cancel(ctx, first.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	list, err := env.reconciler.ListByPatient(ctx, patient, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 appointments, got %d", len(list))
	}
	if list[0].Date.String() != "2024-01-15" {
		t.Errorf("expected ascending order, got %s first", list[0].Date)
	}
	if list[1].DisplayStatus != StatusCancelled {
		t.Errorf("expected cancelled display status, got %s", list[1].DisplayStatus)
	}

	d := mustDate(t, "2024-01-16")
	byDay, err := env.reconciler.ListByDoctor(ctx, env.doctor, &d, 10, 0)
	if err != nil {
		t.Fatalf("list by doctor: %v", err)
	}
	if len(byDay) != 1 || byDay[0].ID != first.ID {
		t.Errorf("expected only the 2024-01-16 appointment, got %d", len(byDay))
	}

	page, err := env.reconciler.ListByPatient(ctx, patient, 1, 1)
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 1 || page[0].ID != first.ID {
		t.Errorf("expected second page to hold the later appointment")
	}

	events := env.repo.Events(ctx)
	want := []string{EventAppointmentBooked, EventAppointmentBooked, EventAppointmentCancelled}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, ev := range events {
		if ev.EventType != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], ev.EventType)
		}
	}
}

func ptr[T any](v T) *T { return &v }
