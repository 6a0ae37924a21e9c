package service

import "fmt"

// Status is the closed tournament lifecycle enum.
type Status string

const (
	StatusDraft              Status = "DRAFT"
	StatusSeekingInstructor  Status = "SEEKING_INSTRUCTOR"
	StatusPendingAcceptance  Status = "PENDING_INSTRUCTOR_ACCEPTANCE"
	StatusInstructorBound    Status = "INSTRUCTOR_ASSIGNED"
	StatusReadyForEnrollment Status = "READY_FOR_ENROLLMENT"
	StatusEnrollmentOpen     Status = "ENROLLMENT_OPEN"
	StatusEnrollmentClosed   Status = "ENROLLMENT_CLOSED"
	StatusInProgress         Status = "IN_PROGRESS"
	StatusCompleted          Status = "COMPLETED"
	StatusCancelled          Status = "CANCELLED"
)

// ParseStatus validates a raw status string against the closed enum.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if _, ok := statusRank[s]; !ok && s != StatusCancelled {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// Terminal reports whether no further transitions leave the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// statusRank orders the forward progression. PENDING_INSTRUCTOR_ACCEPTANCE
// and INSTRUCTOR_ASSIGNED share a rank: they are alternative stops on the
// same leg. CANCELLED sits outside the progression entirely.
var statusRank = map[Status]int{
	StatusDraft:              0,
	StatusSeekingInstructor:  1,
	StatusPendingAcceptance:  2,
	StatusInstructorBound:    2,
	StatusReadyForEnrollment: 3,
	StatusEnrollmentOpen:     4,
	StatusEnrollmentClosed:   5,
	StatusInProgress:         6,
	StatusCompleted:          7,
}

// transitions is the full reachable-target table. CANCELLED is handled
// separately since it is reachable from every non-terminal status.
var transitions = map[Status][]Status{
	StatusDraft:              {StatusSeekingInstructor},
	StatusSeekingInstructor:  {StatusPendingAcceptance, StatusInstructorBound, StatusReadyForEnrollment},
	StatusPendingAcceptance:  {StatusInstructorBound, StatusSeekingInstructor, StatusReadyForEnrollment},
	StatusInstructorBound:    {StatusReadyForEnrollment},
	StatusReadyForEnrollment: {StatusEnrollmentOpen},
	StatusEnrollmentOpen:     {StatusEnrollmentClosed},
	StatusEnrollmentClosed:   {StatusInProgress, StatusEnrollmentOpen},
	StatusInProgress:         {StatusCompleted, StatusEnrollmentClosed, StatusEnrollmentOpen},
	StatusCompleted:          {},
	StatusCancelled:          {},
}

// CanTransition reports whether target is reachable from current in one step.
func CanTransition(current, target Status) bool {
	if target == StatusCancelled {
		return !current.Terminal()
	}
	for _, next := range transitions[current] {
		if next == target {
			return true
		}
	}
	return false
}

// requiresInstructorAtOrAfter returns the rank threshold from which the
// given assignment type demands a bound instructor. OPEN_ASSIGNMENT
// tournaments need one as soon as they leave the seeking phase;
// APPLICATION_BASED ones may stay unbound until enrollment readiness, though
// an early pre-selection is allowed.
func requiresInstructorAtOrAfter(assignment AssignmentType) int {
	if assignment == AssignmentOpen {
		return statusRank[StatusPendingAcceptance]
	}
	return statusRank[StatusReadyForEnrollment]
}

// rewindsSessions reports whether moving current → target steps back over a
// generated schedule that must be purged for a clean later regeneration.
func rewindsSessions(current, target Status) bool {
	if current != StatusInProgress {
		return false
	}
	return target == StatusEnrollmentClosed || target == StatusEnrollmentOpen
}
