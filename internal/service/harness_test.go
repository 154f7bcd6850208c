package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/msaedi/instructly-sub006/internal/availability"
	"github.com/msaedi/instructly-sub006/internal/clock"
	"github.com/msaedi/instructly-sub006/internal/domain"
	"github.com/msaedi/instructly-sub006/internal/lock"
	"github.com/msaedi/instructly-sub006/internal/pricing"
	"github.com/msaedi/instructly-sub006/internal/psp"
	"github.com/msaedi/instructly-sub006/internal/repository"
	"github.com/msaedi/instructly-sub006/pkg/config"
)

const (
	testStudentID    = "stu-1"
	testInstructorID = "ins-1"
	testServiceID    = "svc-1"
)

// fakeClock is a settable clock shared by the harness and the tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// recordingNotifier counts every notification by name
type recordingNotifier struct {
	mu    sync.Mutex
	calls map[string]int
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{calls: make(map[string]int)}
}

func (n *recordingNotifier) note(name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[name]++
	return nil
}

func (n *recordingNotifier) Count(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[name]
}

func (n *recordingNotifier) BookingConfirmed(ctx context.Context, b *domain.Booking) error {
	return n.note("booking_confirmed")
}

func (n *recordingNotifier) BookingCancelled(ctx context.Context, b *domain.Booking) error {
	return n.note("booking_cancelled")
}

func (n *recordingNotifier) AuthFirstFailure(ctx context.Context, b *domain.Booking) error {
	return n.note("auth_first_failure")
}

func (n *recordingNotifier) AuthFinalWarning(ctx context.Context, b *domain.Booking) error {
	return n.note("auth_final_warning")
}

func (n *recordingNotifier) AuthAbandoned(ctx context.Context, b *domain.Booking) error {
	return n.note("auth_abandoned")
}

func (n *recordingNotifier) CaptureFailed(ctx context.Context, b *domain.Booking) error {
	return n.note("capture_failed")
}

func (n *recordingNotifier) CaptureEscalated(ctx context.Context, b *domain.Booking) error {
	return n.note("capture_escalated")
}

func (n *recordingNotifier) NoShowReported(ctx context.Context, b *domain.Booking, r *domain.NoShowReport) error {
	return n.note("no_show_reported")
}

func (n *recordingNotifier) NoShowResolved(ctx context.Context, b *domain.Booking, r *domain.NoShowReport) error {
	return n.note("no_show_resolved")
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		AuthLeadTime:           24 * time.Hour,
		AuthAbandonCutoff:      12 * time.Hour,
		FinalWarningWindowHigh: 13 * time.Hour,
		CaptureDelay:           24 * time.Hour,
		CaptureRetryInterval:   4 * time.Hour,
		CaptureEscalationAfter: 72 * time.Hour,
		AuthValidity:           168 * time.Hour,
		ImmediateAuthTimeout:   30 * time.Minute,
		NoShowResolveAfter:     24 * time.Hour,
		LateRescheduleLow:      12 * time.Hour,
		LateRescheduleHigh:     24 * time.Hour,
		PlatformFeePercent:     15,
		WorkerBatchSize:        100,
		LockTTL:                2 * time.Minute,
	}
}

// testEnv wires the engine against in-memory infrastructure with a settable
// clock and a scriptable payment provider.
type testEnv struct {
	t        *testing.T
	ctx      context.Context
	store    *repository.MemoryStore
	psp      *psp.MockAdapter
	clock    *fakeClock
	notifier *recordingNotifier
	cfg      config.EngineConfig
	svc      *Service

	student    domain.Actor
	instructor domain.Actor
	admin      domain.Actor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clk := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	store := repository.NewMemoryStore()
	adapter := psp.NewMockAdapter()
	adapter.Now = clk.Now
	notifier := newRecordingNotifier()
	cfg := testEngineConfig()

	calculator, err := pricing.NewCalculator(int64(cfg.PlatformFeePercent))
	require.NoError(t, err)

	svc := NewService(Deps{
		Tx:           store,
		Bookings:     store.Bookings(),
		Payments:     store.Payments(),
		Transfers:    store.Transfers(),
		NoShows:      store.NoShows(),
		LockRecords:  store.LockRecords(),
		Ledger:       store.Events(),
		Outbox:       store.Outbox(),
		Credits:      NewCreditService(store.Credits(), nil),
		Instructors:  store.Instructors(),
		Users:        store.Users(),
		Audit:        store.Audit(),
		Availability: availability.NewValidator(store.Availability()),
		PSP:          adapter,
		Locks:        lock.NewMemoryLock(),
		Clock:        clock.NewService(clk),
		Pricing:      calculator,
		Notifier:     notifier,
		Engine:       cfg,
	})

	env := &testEnv{
		t:        t,
		ctx:      context.Background(),
		store:    store,
		psp:      adapter,
		clock:    clk,
		notifier: notifier,
		cfg:      cfg,
		svc:      svc,

		student:    domain.Actor{UserID: testStudentID, Roles: []domain.Role{domain.RoleStudent}},
		instructor: domain.Actor{UserID: testInstructorID, Roles: []domain.Role{domain.RoleInstructor}},
		admin:      domain.Actor{UserID: "adm-1", Roles: []domain.Role{domain.RoleAdmin}},
	}
	env.seedDefaults()
	return env
}

func (e *testEnv) seedDefaults() {
	e.store.SeedService(&repository.InstructorService{
		ID:              testServiceID,
		InstructorID:    testInstructorID,
		Name:            "Guitar Lesson",
		HourlyRateCents: 10000,
		MinAdvanceHours: 2,
		Active:          true,
	})
	e.store.SeedProfile(&repository.InstructorProfile{
		UserID:             testInstructorID,
		Timezone:           "UTC",
		ConnectedAccountID: "acct_ins1",
		Active:             true,
	})
	e.store.SeedBilling(&repository.StudentBilling{
		UserID:          testStudentID,
		CustomerID:      "cus_stu1",
		PaymentMethodID: "pm_card_default",
	})
	// A window of open days around the test base time
	for day := 1; day <= 20; day++ {
		date := time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
		e.store.SeedAvailability(testInstructorID, date, availability.FullDay())
	}
}

// rewire builds a second service over the env's stores with selected
// dependencies swapped out
func (e *testEnv) rewire(override func(d *Deps)) *Service {
	e.t.Helper()
	calculator, err := pricing.NewCalculator(int64(e.cfg.PlatformFeePercent))
	require.NoError(e.t, err)

	d := Deps{
		Tx:           e.store,
		Bookings:     e.store.Bookings(),
		Payments:     e.store.Payments(),
		Transfers:    e.store.Transfers(),
		NoShows:      e.store.NoShows(),
		LockRecords:  e.store.LockRecords(),
		Ledger:       e.store.Events(),
		Outbox:       e.store.Outbox(),
		Credits:      NewCreditService(e.store.Credits(), nil),
		Instructors:  e.store.Instructors(),
		Users:        e.store.Users(),
		Audit:        e.store.Audit(),
		Availability: availability.NewValidator(e.store.Availability()),
		PSP:          e.psp,
		Locks:        lock.NewMemoryLock(),
		Clock:        clock.NewService(e.clock),
		Pricing:      calculator,
		Notifier:     e.notifier,
		Engine:       e.cfg,
	}
	override(&d)
	return NewService(d)
}

// draftAt builds a one hour lesson draft starting at the given UTC instant
func (e *testEnv) draftAt(start time.Time) BookingDraft {
	return BookingDraft{
		InstructorID:    testInstructorID,
		ServiceID:       testServiceID,
		BookingDate:     start.Format("2006-01-02"),
		StartTime:       start.Format("15:04"),
		DurationMinutes: 60,
		LessonTimezone:  "UTC",
		LocationType:    domain.LocationOnline,
	}
}

// createBooking creates a pending booking for a lesson at the given start
func (e *testEnv) createBooking(start time.Time) *domain.Booking {
	e.t.Helper()
	res, err := e.svc.CreateBookingWithPaymentSetup(e.ctx, e.student, e.draftAt(start))
	require.NoError(e.t, err)
	return res.Booking
}

// confirmedBooking creates and confirms a booking whose lesson starts at the
// given instant. For lessons outside the lead time the payment stays
// scheduled; inside it the card is authorized immediately.
func (e *testEnv) confirmedBooking(start time.Time) *domain.Booking {
	e.t.Helper()
	b := e.createBooking(start)
	require.NoError(e.t, e.svc.ConfirmBookingPayment(e.ctx, e.student, b.ID, "pm_card_default"))
	return e.booking(b.ID)
}

// authorizedBooking creates, confirms, and drives the scheduled authorization
func (e *testEnv) authorizedBooking(start time.Time) *domain.Booking {
	e.t.Helper()
	b := e.confirmedBooking(start)
	p := e.payment(b.ID)
	if p.Status == domain.PaymentStatusScheduled {
		require.NotNil(e.t, p.AuthScheduledFor)
		e.clock.Set(*p.AuthScheduledFor)
		require.NoError(e.t, e.svc.AuthorizeScheduled(e.ctx, b.ID))
	}
	require.Equal(e.t, domain.PaymentStatusAuthorized, e.payment(b.ID).Status)
	return e.booking(b.ID)
}

func (e *testEnv) booking(id string) *domain.Booking {
	e.t.Helper()
	b, err := e.store.Bookings().GetByID(e.ctx, id)
	require.NoError(e.t, err)
	return b
}

func (e *testEnv) payment(bookingID string) *domain.BookingPayment {
	e.t.Helper()
	p, err := e.store.Payments().GetByBookingID(e.ctx, bookingID)
	require.NoError(e.t, err)
	return p
}

func (e *testEnv) events(bookingID string) []*domain.PaymentEvent {
	e.t.Helper()
	events, err := e.store.Events().ListForBooking(e.ctx, bookingID)
	require.NoError(e.t, err)
	return events
}

func (e *testEnv) hasEvent(bookingID string, eventType domain.EventType) bool {
	for _, ev := range e.events(bookingID) {
		if ev.Type == eventType {
			return true
		}
	}
	return false
}

func (e *testEnv) requireEvent(bookingID string, eventType domain.EventType) {
	e.t.Helper()
	require.True(e.t, e.hasEvent(bookingID, eventType), "expected ledger event %s", eventType)
}

func (e *testEnv) eventCount(bookingID string, eventType domain.EventType) int {
	n := 0
	for _, ev := range e.events(bookingID) {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func (e *testEnv) creditBalance(studentID string) int64 {
	e.t.Helper()
	bal, err := e.store.Credits().GetBalance(e.ctx, studentID)
	require.NoError(e.t, err)
	return bal
}

func (e *testEnv) grantCredits(studentID string, cents int64) {
	e.t.Helper()
	require.NoError(e.t, e.store.Credits().SetBalance(e.ctx, studentID, cents))
}

// lessonStart returns an instant the given duration after the harness base time
func (e *testEnv) lessonStart(after time.Duration) time.Time {
	return e.clock.Now().Add(after).Truncate(time.Minute)
}
