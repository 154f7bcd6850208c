package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckBookingTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    BookingStatus
		to      BookingStatus
		wantErr bool
	}{
		{"pending to confirmed", BookingStatusPending, BookingStatusConfirmed, false},
		{"pending to cancelled", BookingStatusPending, BookingStatusCancelled, false},
		{"confirmed to completed", BookingStatusConfirmed, BookingStatusCompleted, false},
		{"confirmed to cancelled", BookingStatusConfirmed, BookingStatusCancelled, false},
		{"confirmed to no_show", BookingStatusConfirmed, BookingStatusNoShow, false},
		{"pending to completed skips confirmation", BookingStatusPending, BookingStatusCompleted, true},
		{"pending to no_show skips confirmation", BookingStatusPending, BookingStatusNoShow, true},
		{"completed is terminal", BookingStatusCompleted, BookingStatusCancelled, true},
		{"cancelled is terminal", BookingStatusCancelled, BookingStatusConfirmed, true},
		{"no_show is terminal", BookingStatusNoShow, BookingStatusCompleted, true},
		{"no self loop", BookingStatusConfirmed, BookingStatusConfirmed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckBookingTransition(tt.from, tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckPaymentTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    PaymentStatus
		to      PaymentStatus
		wantErr bool
	}{
		{"scheduled to authorized", PaymentStatusScheduled, PaymentStatusAuthorized, false},
		{"scheduled to method_required", PaymentStatusScheduled, PaymentStatusMethodRequired, false},
		{"scheduled to settled on early cancel", PaymentStatusScheduled, PaymentStatusSettled, false},
		{"method_required recovers to authorized", PaymentStatusMethodRequired, PaymentStatusAuthorized, false},
		{"method_required abandoned", PaymentStatusMethodRequired, PaymentStatusSettled, false},
		{"authorized to settled", PaymentStatusAuthorized, PaymentStatusSettled, false},
		{"authorized falls back on capture failure", PaymentStatusAuthorized, PaymentStatusMethodRequired, false},
		{"authorized to locked", PaymentStatusAuthorized, PaymentStatusLocked, false},
		{"scheduled to locked on late reschedule", PaymentStatusScheduled, PaymentStatusLocked, false},
		{"method_required escalates after capture retries", PaymentStatusMethodRequired, PaymentStatusManualReview, false},
		{"locked to settled", PaymentStatusLocked, PaymentStatusSettled, false},
		{"locked escalates", PaymentStatusLocked, PaymentStatusManualReview, false},
		{"settled is terminal", PaymentStatusSettled, PaymentStatusAuthorized, true},
		{"manual_review is terminal", PaymentStatusManualReview, PaymentStatusSettled, true},
		{"scheduled cannot skip to manual_review", PaymentStatusScheduled, PaymentStatusManualReview, true},
		{"method_required cannot lock", PaymentStatusMethodRequired, PaymentStatusLocked, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPaymentTransition(tt.from, tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckCancelActor(t *testing.T) {
	booking := &Booking{StudentID: "stu-1", InstructorID: "ins-1"}

	tests := []struct {
		name     string
		actor    Actor
		wantRole Role
		wantErr  error
	}{
		{"student cancels own booking", Actor{UserID: "stu-1", Roles: []Role{RoleStudent}}, RoleStudent, nil},
		{"instructor cancels own booking", Actor{UserID: "ins-1", Roles: []Role{RoleInstructor}}, RoleInstructor, nil},
		{"admin cancels any booking", Actor{UserID: "adm-1", Roles: []Role{RoleAdmin}}, RoleAdmin, nil},
		{"engine cancels as system", SystemActor(), RoleSystem, nil},
		{"stranger is rejected", Actor{UserID: "other", Roles: []Role{RoleStudent}}, "", ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, err := CheckCancelActor(tt.actor, booking)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRole, role)
		})
	}
}

func TestCheckReportActor(t *testing.T) {
	booking := &Booking{StudentID: "stu-1", InstructorID: "ins-1"}

	tests := []struct {
		name     string
		actor    Actor
		nsType   NoShowType
		wantRole Role
		wantErr  error
	}{
		{"student reports instructor no-show", Actor{UserID: "stu-1"}, NoShowInstructor, RoleStudent, nil},
		{"instructor reports student no-show", Actor{UserID: "ins-1"}, NoShowStudent, RoleInstructor, nil},
		{"student cannot report student no-show", Actor{UserID: "stu-1"}, NoShowStudent, "", ErrForbidden},
		{"instructor cannot report instructor no-show", Actor{UserID: "ins-1"}, NoShowInstructor, "", ErrForbidden},
		{"only admin reports mutual", Actor{UserID: "stu-1"}, NoShowMutual, "", ErrForbidden},
		{"system reports mutual", SystemActor(), NoShowMutual, RoleSystem, nil},
		{"unknown type rejected", Actor{UserID: "stu-1"}, NoShowType("ghost"), "", ErrInvalidNoShowType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, err := CheckReportActor(tt.actor, booking, tt.nsType)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRole, role)
		})
	}
}

func TestCheckDisputeActor(t *testing.T) {
	booking := &Booking{StudentID: "stu-1", InstructorID: "ins-1"}

	studentReport := &NoShowReport{Type: NoShowStudent}
	instructorReport := &NoShowReport{Type: NoShowInstructor}

	assert.NoError(t, CheckDisputeActor(Actor{UserID: "stu-1"}, booking, studentReport))
	assert.ErrorIs(t, CheckDisputeActor(Actor{UserID: "ins-1"}, booking, studentReport), ErrForbidden)

	assert.NoError(t, CheckDisputeActor(Actor{UserID: "ins-1"}, booking, instructorReport))
	assert.ErrorIs(t, CheckDisputeActor(Actor{UserID: "stu-1"}, booking, instructorReport), ErrForbidden)

	assert.NoError(t, CheckDisputeActor(Actor{UserID: "adm", Roles: []Role{RoleAdmin}}, booking, studentReport))
}
