package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/msaedi/instructly-sub006/internal/availability"
	"github.com/msaedi/instructly-sub006/internal/domain"
)

// MemoryStore implements every repository interface in memory. It backs the
// service and worker tests and local development without Postgres. WithinTx
// runs the function under the store's write lock; there is no rollback, so
// tests assert on observable outcomes rather than partial failure states.
type MemoryStore struct {
	mu sync.Mutex

	bookings      map[string]*domain.Booking
	payments      map[string]*domain.BookingPayment // keyed by booking id
	transfers     []*domain.Transfer
	noShows       map[string]*domain.NoShowReport
	lockRecords   map[string]*domain.LockRecord
	events        []*domain.PaymentEvent
	outbox        map[string]*domain.OutboxMessage
	credits       map[string]int64
	creditEntries []*CreditEntry
	services      map[string]*InstructorService
	profiles      map[string]*InstructorProfile
	billing       map[string]*StudentBilling
	lockedUsers   map[string]string
	masks         map[string]availability.DayMask // instructorID/date
	auditEntries  []*domain.AuditEntry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:    make(map[string]*domain.Booking),
		payments:    make(map[string]*domain.BookingPayment),
		noShows:     make(map[string]*domain.NoShowReport),
		lockRecords: make(map[string]*domain.LockRecord),
		outbox:      make(map[string]*domain.OutboxMessage),
		credits:     make(map[string]int64),
		services:    make(map[string]*InstructorService),
		profiles:    make(map[string]*InstructorProfile),
		billing:     make(map[string]*StudentBilling),
		lockedUsers: make(map[string]string),
		masks:       make(map[string]availability.DayMask),
	}
}

// WithinTx implements TxManager. The memory store has no transactions; the
// function runs directly.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Seed helpers

// SeedService registers an instructor service offering
func (s *MemoryStore) SeedService(svc *InstructorService) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *svc
	s.services[svc.ID] = &cp
}

// SeedProfile registers an instructor profile
func (s *MemoryStore) SeedProfile(p *InstructorProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[p.UserID] = &cp
}

// SeedBilling registers a student's PSP identifiers
func (s *MemoryStore) SeedBilling(b *StudentBilling) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.billing[b.UserID] = &cp
}

// SeedAvailability opens a day mask for an instructor
func (s *MemoryStore) SeedAvailability(instructorID, date string, mask availability.DayMask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masks[instructorID+"/"+date] = mask
}

// LockedStudents returns the students whose accounts were locked, with reasons
func (s *MemoryStore) LockedStudents() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.lockedUsers))
	for k, v := range s.lockedUsers {
		out[k] = v
	}
	return out
}

// LockRecordByParent returns the lock record for a parent booking, resolved or not
func (s *MemoryStore) LockRecordByParent(parentBookingID string) (*domain.LockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lockRecords {
		if l.ParentBookingID == parentBookingID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, domain.ErrLockRecordNotFound
}

// AuditEntries returns the recorded audit log
func (s *MemoryStore) AuditEntries() []*domain.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.AuditEntry, len(s.auditEntries))
	copy(out, s.auditEntries)
	return out
}

// CreditEntries returns the credit movement history
func (s *MemoryStore) CreditEntries() []*CreditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*CreditEntry, len(s.creditEntries))
	copy(out, s.creditEntries)
	return out
}

// BookingRepository

type memoryBookingRepo struct{ s *MemoryStore }

func (s *MemoryStore) Bookings() BookingRepository { return &memoryBookingRepo{s} }

func cloneBooking(b *domain.Booking) *domain.Booking {
	cp := *b
	return &cp
}

func (r *memoryBookingRepo) Create(ctx context.Context, b *domain.Booking) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.bookings[b.ID] = cloneBooking(b)
	return nil
}

func (r *memoryBookingRepo) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return cloneBooking(b), nil
}

func (r *memoryBookingRepo) GetForUpdate(ctx context.Context, id string) (*domain.Booking, error) {
	return r.GetByID(ctx, id)
}

func (r *memoryBookingRepo) Update(ctx context.Context, b *domain.Booking) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.bookings[b.ID]; !ok {
		return domain.ErrBookingNotFound
	}
	r.s.bookings[b.ID] = cloneBooking(b)
	return nil
}

func (r *memoryBookingRepo) FindConflict(ctx context.Context, studentID, instructorID string, startUTC, endUTC time.Time, excludeID string) (domain.ConflictScope, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var ins, stu bool
	for _, b := range r.s.bookings {
		if b.ID == excludeID || !b.IsActive() || !b.Overlaps(startUTC, endUTC) {
			continue
		}
		if b.InstructorID == instructorID {
			ins = true
		}
		if b.StudentID == studentID {
			stu = true
		}
	}
	switch {
	case ins && stu:
		return domain.ConflictBoth, true, nil
	case ins:
		return domain.ConflictInstructor, true, nil
	case stu:
		return domain.ConflictStudent, true, nil
	}
	return "", false, nil
}

func (r *memoryBookingRepo) ListConfirmedEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var ids []string
	for _, b := range r.s.bookings {
		if b.Status == domain.BookingStatusConfirmed && !b.EndUTC.After(cutoff) {
			ids = append(ids, b.ID)
		}
	}
	sort.Strings(ids)
	return capIDs(ids, limit), nil
}

func (r *memoryBookingRepo) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var ids []string
	for _, b := range r.s.bookings {
		if b.Status == domain.BookingStatusPending && !b.CreatedAt.After(cutoff) {
			ids = append(ids, b.ID)
		}
	}
	sort.Strings(ids)
	return capIDs(ids, limit), nil
}

func capIDs(ids []string, limit int) []string {
	if limit > 0 && len(ids) > limit {
		return ids[:limit]
	}
	return ids
}

// PaymentRepository

type memoryPaymentRepo struct{ s *MemoryStore }

func (s *MemoryStore) Payments() PaymentRepository { return &memoryPaymentRepo{s} }

func clonePayment(p *domain.BookingPayment) *domain.BookingPayment {
	cp := *p
	return &cp
}

func (r *memoryPaymentRepo) Create(ctx context.Context, p *domain.BookingPayment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.payments[p.BookingID] = clonePayment(p)
	return nil
}

func (r *memoryPaymentRepo) GetByBookingID(ctx context.Context, bookingID string) (*domain.BookingPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[bookingID]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (r *memoryPaymentRepo) GetByBookingIDForUpdate(ctx context.Context, bookingID string) (*domain.BookingPayment, error) {
	return r.GetByBookingID(ctx, bookingID)
}

func (r *memoryPaymentRepo) Update(ctx context.Context, p *domain.BookingPayment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.payments[p.BookingID]; !ok {
		return domain.ErrPaymentNotFound
	}
	r.s.payments[p.BookingID] = clonePayment(p)
	return nil
}

func (r *memoryPaymentRepo) ListAuthDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var ids []string
	for id, p := range r.s.payments {
		b, ok := r.s.bookings[id]
		if !ok || !b.IsActive() {
			continue
		}
		if p.Status == domain.PaymentStatusScheduled && p.AuthScheduledFor != nil && !p.AuthScheduledFor.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return capIDs(ids, limit), nil
}

func (r *memoryPaymentRepo) ListAuthRetryCandidates(ctx context.Context, now time.Time, limit int) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var ids []string
	for id, p := range r.s.payments {
		b, ok := r.s.bookings[id]
		if !ok || !b.IsActive() || !b.StartUTC.After(now) {
			continue
		}
		if p.Status == domain.PaymentStatusMethodRequired && p.CaptureFailedAt == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return capIDs(ids, limit), nil
}

func (r *memoryPaymentRepo) ListCaptureDue(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var ids []string
	for id, p := range r.s.payments {
		b, ok := r.s.bookings[id]
		if !ok || b.Status != domain.BookingStatusCompleted || b.EndUTC.After(cutoff) {
			continue
		}
		if p.Status == domain.PaymentStatusAuthorized {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return capIDs(ids, limit), nil
}

func (r *memoryPaymentRepo) ListCaptureFailed(ctx context.Context, limit int) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var ids []string
	for id, p := range r.s.payments {
		if p.InCaptureRetry() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return capIDs(ids, limit), nil
}

func (r *memoryPaymentRepo) ListAuthAged(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var ids []string
	for id, p := range r.s.payments {
		if p.Status == domain.PaymentStatusAuthorized && p.AuthorizedAt != nil && !p.AuthorizedAt.After(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return capIDs(ids, limit), nil
}

func (r *memoryPaymentRepo) CountAuthOverdue(ctx context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var count int64
	for id, p := range r.s.payments {
		b, ok := r.s.bookings[id]
		if !ok || !b.IsActive() {
			continue
		}
		if (p.Status == domain.PaymentStatusScheduled || p.Status == domain.PaymentStatusMethodRequired) &&
			p.AuthScheduledFor != nil && !p.AuthScheduledFor.After(now) {
			count++
		}
	}
	return count, nil
}

// TransferRepository

type memoryTransferRepo struct{ s *MemoryStore }

func (s *MemoryStore) Transfers() TransferRepository { return &memoryTransferRepo{s} }

func (r *memoryTransferRepo) Create(ctx context.Context, t *domain.Transfer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *t
	r.s.transfers = append(r.s.transfers, &cp)
	return nil
}

func (r *memoryTransferRepo) Update(ctx context.Context, t *domain.Transfer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, existing := range r.s.transfers {
		if existing.ID == t.ID {
			cp := *t
			r.s.transfers[i] = &cp
			return nil
		}
	}
	return domain.ErrPaymentNotFound
}

func (r *memoryTransferRepo) ListByBooking(ctx context.Context, bookingID string) ([]*domain.Transfer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Transfer
	for _, t := range r.s.transfers {
		if t.BookingID == bookingID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// NoShowRepository

type memoryNoShowRepo struct{ s *MemoryStore }

func (s *MemoryStore) NoShows() NoShowRepository { return &memoryNoShowRepo{s} }

func (r *memoryNoShowRepo) Create(ctx context.Context, report *domain.NoShowReport) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *report
	r.s.noShows[report.ID] = &cp
	return nil
}

func (r *memoryNoShowRepo) GetByID(ctx context.Context, id string) (*domain.NoShowReport, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	report, ok := r.s.noShows[id]
	if !ok {
		return nil, domain.ErrReportNotFound
	}
	cp := *report
	return &cp, nil
}

func (r *memoryNoShowRepo) GetOpenByBookingID(ctx context.Context, bookingID string) (*domain.NoShowReport, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, report := range r.s.noShows {
		if report.BookingID == bookingID && report.IsOpen() {
			cp := *report
			return &cp, nil
		}
	}
	return nil, domain.ErrReportNotFound
}

func (r *memoryNoShowRepo) Update(ctx context.Context, report *domain.NoShowReport) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.noShows[report.ID]; !ok {
		return domain.ErrReportNotFound
	}
	cp := *report
	r.s.noShows[report.ID] = &cp
	return nil
}

func (r *memoryNoShowRepo) ListUndisputedOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*domain.NoShowReport, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.NoShowReport
	for _, report := range r.s.noShows {
		if report.IsOpen() && !report.Disputed && !report.ReportedAt.After(cutoff) {
			cp := *report
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReportedAt.Before(out[j].ReportedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LockRecordRepository

type memoryLockRecordRepo struct{ s *MemoryStore }

func (s *MemoryStore) LockRecords() LockRecordRepository { return &memoryLockRecordRepo{s} }

func (r *memoryLockRecordRepo) Create(ctx context.Context, l *domain.LockRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *l
	r.s.lockRecords[l.ID] = &cp
	return nil
}

func (r *memoryLockRecordRepo) GetOpenByNewBookingID(ctx context.Context, newBookingID string) (*domain.LockRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, l := range r.s.lockRecords {
		if l.NewBookingID == newBookingID && l.IsOpen() {
			cp := *l
			return &cp, nil
		}
	}
	return nil, domain.ErrLockRecordNotFound
}

func (r *memoryLockRecordRepo) GetOpenByParentBookingID(ctx context.Context, parentBookingID string) (*domain.LockRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, l := range r.s.lockRecords {
		if l.ParentBookingID == parentBookingID && l.IsOpen() {
			cp := *l
			return &cp, nil
		}
	}
	return nil, domain.ErrLockRecordNotFound
}

func (r *memoryLockRecordRepo) Update(ctx context.Context, l *domain.LockRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.lockRecords[l.ID]; !ok {
		return domain.ErrLockRecordNotFound
	}
	cp := *l
	r.s.lockRecords[l.ID] = &cp
	return nil
}

// EventLedger

type memoryEventLedger struct{ s *MemoryStore }

func (s *MemoryStore) Events() EventLedger { return &memoryEventLedger{s} }

func (r *memoryEventLedger) Append(ctx context.Context, e *domain.PaymentEvent) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.events {
		if existing.BookingID == e.BookingID && existing.Type == e.Type && existing.ExternalRef == e.ExternalRef {
			return false, nil
		}
	}
	cp := *e
	r.s.events = append(r.s.events, &cp)
	return true, nil
}

func (r *memoryEventLedger) Exists(ctx context.Context, bookingID string, eventType domain.EventType, externalRef string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.events {
		if e.BookingID == bookingID && e.Type == eventType && e.ExternalRef == externalRef {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryEventLedger) ListForBooking(ctx context.Context, bookingID string) ([]*domain.PaymentEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.PaymentEvent
	for _, e := range r.s.events {
		if e.BookingID == bookingID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// OutboxRepository

type memoryOutboxRepo struct{ s *MemoryStore }

func (s *MemoryStore) Outbox() OutboxRepository { return &memoryOutboxRepo{s} }

func (r *memoryOutboxRepo) Enqueue(ctx context.Context, m *domain.OutboxMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *m
	r.s.outbox[m.ID] = &cp
	return nil
}

func (r *memoryOutboxRepo) list(status domain.OutboxStatus, limit int, maxRetries int) []*domain.OutboxMessage {
	var out []*domain.OutboxMessage
	for _, m := range r.s.outbox {
		if m.Status != status {
			continue
		}
		if maxRetries > 0 && m.RetryCount >= maxRetries {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return strings.Compare(out[i].ID, out[j].ID) < 0
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *memoryOutboxRepo) GetPending(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.list(domain.OutboxStatusPending, limit, 0), nil
}

func (r *memoryOutboxRepo) GetFailed(ctx context.Context, maxRetries, limit int) ([]*domain.OutboxMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.list(domain.OutboxStatusFailed, limit, maxRetries), nil
}

func (r *memoryOutboxRepo) MarkPublished(ctx context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m, ok := r.s.outbox[id]; ok {
		m.MarkPublished(at)
	}
	return nil
}

func (r *memoryOutboxRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m, ok := r.s.outbox[id]; ok {
		m.MarkFailed(reason)
	}
	return nil
}

func (r *memoryOutboxRepo) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, m := range r.s.outbox {
		if m.Status == domain.OutboxStatusPublished && m.PublishedAt != nil && !m.PublishedAt.After(cutoff) {
			delete(r.s.outbox, id)
			n++
		}
	}
	return n, nil
}

// CreditRepository

type memoryCreditRepo struct{ s *MemoryStore }

func (s *MemoryStore) Credits() CreditRepository { return &memoryCreditRepo{s} }

func (r *memoryCreditRepo) GetBalance(ctx context.Context, studentID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.credits[studentID], nil
}

func (r *memoryCreditRepo) GetBalanceForUpdate(ctx context.Context, studentID string) (int64, error) {
	return r.GetBalance(ctx, studentID)
}

func (r *memoryCreditRepo) SetBalance(ctx context.Context, studentID string, balanceCents int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.credits[studentID] = balanceCents
	return nil
}

func (r *memoryCreditRepo) AppendEntry(ctx context.Context, e *CreditEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *e
	r.s.creditEntries = append(r.s.creditEntries, &cp)
	return nil
}

// InstructorRepository

type memoryInstructorRepo struct{ s *MemoryStore }

func (s *MemoryStore) Instructors() InstructorRepository { return &memoryInstructorRepo{s} }

func (r *memoryInstructorRepo) GetService(ctx context.Context, serviceID string) (*InstructorService, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	svc, ok := r.s.services[serviceID]
	if !ok {
		return nil, domain.ErrServiceInactive
	}
	cp := *svc
	return &cp, nil
}

func (r *memoryInstructorRepo) GetProfile(ctx context.Context, instructorID string) (*InstructorProfile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[instructorID]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memoryInstructorRepo) ListConnectedAccounts(ctx context.Context, afterID string, limit int) ([]InstructorProfile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []InstructorProfile
	for _, p := range r.s.profiles {
		if p.Active && p.ConnectedAccountID != "" && p.UserID > afterID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UserRepository

type memoryUserRepo struct{ s *MemoryStore }

func (s *MemoryStore) Users() UserRepository { return &memoryUserRepo{s} }

func (r *memoryUserRepo) GetStudentBilling(ctx context.Context, studentID string) (*StudentBilling, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.billing[studentID]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *memoryUserRepo) SetStudentPaymentMethod(ctx context.Context, studentID, paymentMethodID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if b, ok := r.s.billing[studentID]; ok {
		b.PaymentMethodID = paymentMethodID
	}
	return nil
}

func (r *memoryUserRepo) LockStudentAccount(ctx context.Context, studentID, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.lockedUsers[studentID] = reason
	return nil
}

// AvailabilityRepository

type memoryAvailabilityRepo struct{ s *MemoryStore }

func (s *MemoryStore) Availability() AvailabilityRepository { return &memoryAvailabilityRepo{s} }

func (r *memoryAvailabilityRepo) DayMask(ctx context.Context, instructorID, date string) (availability.DayMask, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.masks[instructorID+"/"+date]
	return m, ok, nil
}

// AuditRepository

type memoryAuditRepo struct{ s *MemoryStore }

func (s *MemoryStore) Audit() AuditRepository { return &memoryAuditRepo{s} }

func (r *memoryAuditRepo) Record(ctx context.Context, e *domain.AuditEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *e
	r.s.auditEntries = append(r.s.auditEntries, &cp)
	return nil
}
