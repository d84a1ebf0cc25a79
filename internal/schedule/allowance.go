package schedule

import "worksched/internal/model"

// ChangeRequiredMark is shown next to users whose allowance should change.
const ChangeRequiredMark = "要"

// CommuteChangeStatus reports whether a user's commuting allowance should be
// revisited given their remote ratio for the month. Applied-for allowances flag
// at a ratio of two thirds or more, suspended ones above two thirds. A month
// without working days never flags.
func CommuteChangeStatus(status model.AllowanceStatus, remoteDays, workingDays int) bool {
	if workingDays <= 0 {
		return false
	}
	// remote/working against 2/3 without floating point.
	lhs, rhs := remoteDays*3, workingDays*2
	switch status {
	case model.AllowanceApplied:
		return lhs >= rhs
	case model.AllowanceSuspended:
		return lhs > rhs
	}
	return false
}
