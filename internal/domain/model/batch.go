package model

// ItemOutcome is the per-target result of one membership mutation inside a
// batch.
type ItemOutcome struct {
	Target string
	OK     bool
	Code   string
}

// BatchResult aggregates one orchestrated bulk operation. FailedIDs is capped
// for operator display; Failed always carries the full count.
type BatchResult struct {
	JobID     string
	Succeeded int
	Failed    int
	FailedIDs []string
}

const FailedIDsDisplayCap = 15

func (r *BatchResult) Record(outcome ItemOutcome) {
	if outcome.OK {
		r.Succeeded++
		return
	}
	r.Failed++
	if len(r.FailedIDs) < FailedIDsDisplayCap {
		r.FailedIDs = append(r.FailedIDs, outcome.Target)
	}
}
