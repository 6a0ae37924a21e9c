package sqlassets

import _ "embed"

//go:embed schema/core/credit_accounts.sql
var CreditAccountsSQL string

//go:embed schema/core/tournaments.sql
var TournamentsSQL string

//go:embed schema/core/enrollments.sql
var EnrollmentsSQL string

//go:embed schema/core/sessions.sql
var SessionsSQL string

//go:embed schema/core/reward_dispatches.sql
var RewardDispatchesSQL string
