package generator

import "fmt"

// Format identifies the schedule shape a template produces.
type Format string

const (
	FormatKnockout          Format = "KNOCKOUT"
	FormatRoundRobin        Format = "ROUND_ROBIN"
	FormatIndividualRanking Format = "INDIVIDUAL_RANKING"
	FormatSwiss             Format = "SWISS"
)

// Phase tags what stage of the tournament a session belongs to.
type Phase string

const (
	PhaseGroupStage        Phase = "GROUP_STAGE"
	PhaseKnockout          Phase = "KNOCKOUT"
	PhaseFinals            Phase = "FINALS"
	PhasePlacement         Phase = "PLACEMENT"
	PhaseIndividualRanking Phase = "INDIVIDUAL_RANKING"
	PhaseSwiss             Phase = "SWISS"
)

// Template is the typed tournament-type configuration. It is validated up
// front so generation never has to interpret loose config at runtime.
type Template struct {
	Format              Format
	MinPlayers          int
	MaxPlayers          int
	RequiresPowerOfTwo  bool
	RoundCount          int
	SessionDurationMins int
	BreakBetweenMins    int
	ParallelFields      int
}

// Validate checks the template for internal consistency.
func (t Template) Validate() error {
	switch t.Format {
	case FormatKnockout, FormatRoundRobin, FormatIndividualRanking, FormatSwiss:
	default:
		return &GenerationError{Constraint: "format", Detail: fmt.Sprintf("unknown format %q", t.Format)}
	}
	if t.MinPlayers < 2 && t.Format != FormatIndividualRanking {
		return &GenerationError{Constraint: "min_players", Detail: "pairing formats need at least 2 players"}
	}
	if t.MinPlayers < 1 {
		return &GenerationError{Constraint: "min_players", Detail: "must be at least 1"}
	}
	if t.MaxPlayers < t.MinPlayers {
		return &GenerationError{Constraint: "max_players", Detail: "must be >= min_players"}
	}
	if t.SessionDurationMins <= 0 {
		return &GenerationError{Constraint: "session_duration_minutes", Detail: "must be positive"}
	}
	if t.BreakBetweenMins < 0 {
		return &GenerationError{Constraint: "break_between_sessions_minutes", Detail: "must not be negative"}
	}
	if t.ParallelFields < 1 {
		return &GenerationError{Constraint: "parallel_fields", Detail: "must be at least 1"}
	}
	switch t.Format {
	case FormatIndividualRanking, FormatSwiss:
		if t.RoundCount < 1 {
			return &GenerationError{Constraint: "round_count", Detail: fmt.Sprintf("%s templates need an explicit round count", t.Format)}
		}
	}
	if t.RequiresPowerOfTwo && t.Format != FormatKnockout {
		return &GenerationError{Constraint: "requires_power_of_two", Detail: "only knockout templates use bracket sizing"}
	}
	return nil
}
