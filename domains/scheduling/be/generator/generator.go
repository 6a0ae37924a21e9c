// Package generator turns a tournament template and an enrolled participant
// set into a session schedule. Generate is a pure function of its inputs:
// identical inputs always produce a structurally identical schedule, which is
// what makes delete-and-regenerate safe.
package generator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerationError reports which template constraint the participant set or
// configuration failed to satisfy.
type GenerationError struct {
	Constraint string
	Detail     string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed on %s: %s", e.Constraint, e.Detail)
}

// Slot is one participant position in a session. Either UserID is set, or
// Placeholder names a not-yet-resolved entrant ("Winner of Match 3").
type Slot struct {
	UserID      *uuid.UUID `json:"userId,omitempty"`
	Placeholder string     `json:"placeholder,omitempty"`
}

// Session is one generated schedule unit. IDs and the tournament reference
// are stamped by the caller on persist; keeping them out of the generator
// keeps its output deterministic.
type Session struct {
	RoundNumber int
	MatchNumber *int
	Phase       Phase
	FieldNumber int
	Slots       []Slot
	StartsAt    time.Time
	EndsAt      time.Time
}

// Plan is the full input to Generate.
type Plan struct {
	Template Template
	// Participants is the enrolled set in admission order; ordering is part
	// of the input, so callers must pass a stable ordering.
	Participants []uuid.UUID
	// FirstSessionAt anchors the schedule.
	FirstSessionAt time.Time
}

// Generate produces the session schedule for the plan.
func Generate(plan Plan) ([]Session, error) {
	if err := plan.Template.Validate(); err != nil {
		return nil, err
	}
	n := len(plan.Participants)
	if n < plan.Template.MinPlayers || n > plan.Template.MaxPlayers {
		return nil, &GenerationError{
			Constraint: "participant_count",
			Detail:     fmt.Sprintf("%d participants, template allows %d..%d", n, plan.Template.MinPlayers, plan.Template.MaxPlayers),
		}
	}

	var sessions []Session
	var err error
	switch plan.Template.Format {
	case FormatKnockout:
		sessions, err = buildKnockout(plan)
	case FormatRoundRobin:
		sessions = buildRoundRobin(plan)
	case FormatIndividualRanking:
		sessions = buildIndividualRanking(plan)
	case FormatSwiss:
		sessions = buildSwiss(plan)
	}
	if err != nil {
		return nil, err
	}

	scheduleSessions(sessions, plan.Template, plan.FirstSessionAt)
	return sessions, nil
}

// buildKnockout lays out a single-elimination bracket. Round one pairs seed
// i against seed size-1-i, so when the field is not a power of two the top
// seeds draw the byes and advance directly. Later rounds reference earlier
// winners by placeholder since results are unknown at generation time.
func buildKnockout(plan Plan) ([]Session, error) {
	participants := plan.Participants
	if plan.Template.RequiresPowerOfTwo {
		size := floorPowerOfTwo(len(participants))
		if size < plan.Template.MinPlayers {
			return nil, &GenerationError{
				Constraint: "requires_power_of_two",
				Detail: fmt.Sprintf("%d participants round down to a bracket of %d, below the minimum of %d",
					len(participants), size, plan.Template.MinPlayers),
			}
		}
		participants = participants[:size]
	}

	bracketSize := ceilPowerOfTwo(len(participants))
	totalRounds := log2(bracketSize)

	entrants := make([]*Slot, bracketSize)
	for i := range participants {
		id := participants[i]
		entrants[i] = &Slot{UserID: &id}
	}

	var sessions []Session
	matchNumber := 1
	for round := 1; len(entrants) > 1; round++ {
		phase := PhaseKnockout
		if round == totalRounds {
			phase = PhaseFinals
		}
		next := make([]*Slot, 0, len(entrants)/2)
		for i := 0; i < len(entrants)/2; i++ {
			var a, b *Slot
			if round == 1 {
				a, b = entrants[i], entrants[len(entrants)-1-i]
			} else {
				a, b = entrants[2*i], entrants[2*i+1]
			}
			switch {
			case a != nil && b != nil:
				num := matchNumber
				sessions = append(sessions, Session{
					RoundNumber: round,
					MatchNumber: &num,
					Phase:       phase,
					Slots:       []Slot{*a, *b},
				})
				next = append(next, &Slot{Placeholder: fmt.Sprintf("Winner of Match %d", num)})
				matchNumber++
			case a != nil:
				next = append(next, a)
			default:
				next = append(next, b)
			}
		}
		entrants = next
	}
	return sessions, nil
}

// buildRoundRobin pairs everyone against everyone using the circle rotation.
// An odd field gets a rotating bye that simply emits no session.
func buildRoundRobin(plan Plan) []Session {
	ring := make([]*uuid.UUID, 0, len(plan.Participants)+1)
	for i := range plan.Participants {
		id := plan.Participants[i]
		ring = append(ring, &id)
	}
	if len(ring)%2 == 1 {
		ring = append(ring, nil)
	}

	var sessions []Session
	size := len(ring)
	matchNumber := 1
	for round := 1; round < size; round++ {
		for i := 0; i < size/2; i++ {
			a, b := ring[i], ring[size-1-i]
			if a == nil || b == nil {
				continue
			}
			num := matchNumber
			sessions = append(sessions, Session{
				RoundNumber: round,
				MatchNumber: &num,
				Phase:       PhaseGroupStage,
				Slots:       []Slot{{UserID: a}, {UserID: b}},
			})
			matchNumber++
		}
		// Rotate everything except the first position.
		last := ring[size-1]
		copy(ring[2:], ring[1:size-1])
		ring[1] = last
	}
	return sessions
}

// buildIndividualRanking emits one unstructured session per configured round
// with the full participant list on each.
func buildIndividualRanking(plan Plan) []Session {
	slots := make([]Slot, 0, len(plan.Participants))
	for i := range plan.Participants {
		id := plan.Participants[i]
		slots = append(slots, Slot{UserID: &id})
	}

	sessions := make([]Session, 0, plan.Template.RoundCount)
	for round := 1; round <= plan.Template.RoundCount; round++ {
		sessions = append(sessions, Session{
			RoundNumber: round,
			Phase:       PhaseIndividualRanking,
			Slots:       append([]Slot(nil), slots...),
		})
	}
	return sessions
}

// buildSwiss seeds round one as top half versus bottom half in admission
// order. Later rounds depend on standings that do not exist yet, so their
// slots are standings placeholders resolved when the round is played.
func buildSwiss(plan Plan) []Session {
	n := len(plan.Participants)
	pairs := n / 2

	var sessions []Session
	matchNumber := 1
	for i := 0; i < pairs; i++ {
		a, b := plan.Participants[i], plan.Participants[i+pairs+n%2]
		num := matchNumber
		sessions = append(sessions, Session{
			RoundNumber: 1,
			MatchNumber: &num,
			Phase:       PhaseSwiss,
			Slots:       []Slot{{UserID: &a}, {UserID: &b}},
		})
		matchNumber++
	}

	for round := 2; round <= plan.Template.RoundCount; round++ {
		for i := 0; i < pairs; i++ {
			num := matchNumber
			sessions = append(sessions, Session{
				RoundNumber: round,
				MatchNumber: &num,
				Phase:       PhaseSwiss,
				Slots: []Slot{
					{Placeholder: fmt.Sprintf("Standings rank %d after round %d", 2*i+1, round-1)},
					{Placeholder: fmt.Sprintf("Standings rank %d after round %d", 2*i+2, round-1)},
				},
			})
			matchNumber++
		}
	}
	return sessions
}

// scheduleSessions assigns start/end times and field numbers in place.
// Sessions within the same round run in waves of up to ParallelFields
// concurrent slots; a new round never overlaps the previous one.
func scheduleSessions(sessions []Session, tpl Template, anchor time.Time) {
	duration := time.Duration(tpl.SessionDurationMins) * time.Minute
	gap := time.Duration(tpl.BreakBetweenMins) * time.Minute

	cursor := anchor
	waveUsed := 0
	currentRound := 0
	for i := range sessions {
		if sessions[i].RoundNumber != currentRound {
			if currentRound != 0 && waveUsed > 0 {
				cursor = cursor.Add(duration + gap)
			}
			currentRound = sessions[i].RoundNumber
			waveUsed = 0
		}
		if waveUsed == tpl.ParallelFields {
			cursor = cursor.Add(duration + gap)
			waveUsed = 0
		}
		sessions[i].FieldNumber = waveUsed + 1
		sessions[i].StartsAt = cursor
		sessions[i].EndsAt = cursor.Add(duration)
		waveUsed++
	}
}

func floorPowerOfTwo(n int) int {
	size := 1
	for size*2 <= n {
		size *= 2
	}
	return size
}

func ceilPowerOfTwo(n int) int {
	size := 1
	for size < n {
		size *= 2
	}
	return size
}

func log2(n int) int {
	rounds := 0
	for n > 1 {
		n /= 2
		rounds++
	}
	return rounds
}
