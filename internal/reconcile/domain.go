package reconcile

import "time"

// Severity ranks a finding. CRITICAL findings mean the ledger can no longer
// be trusted; WARN findings mean book and shelf disagree; INFO findings are
// advisory.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarn     Severity = "WARN"
	SeverityInfo     Severity = "INFO"
)

// Codes identify what a finding detected.
const (
	CodeNegativeBatch     = "NEGATIVE_BATCH"
	CodeNegativeAggregate = "NEGATIVE_AGGREGATE"
	CodeAggregateDrift    = "AGGREGATE_DRIFT"
	CodeOrphanBatches     = "ORPHAN_BATCHES"
	CodeStaleAggregate    = "STALE_AGGREGATE"
	CodeLowStock          = "LOW_STOCK"
)

// Finding is one divergence discovered by a reconciliation run. Expected and
// Actual carry the compared quantities where the check has them.
type Finding struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	ItemName string   `json:"item_name"`
	BatchNo  string   `json:"batch_no,omitempty"`
	Location string   `json:"location,omitempty"`
	Expected int64    `json:"expected"`
	Actual   int64    `json:"actual"`
	Detail   string   `json:"detail"`
}

// Report is the outcome of one reconciliation run. Reconciliation only ever
// reports; it never corrects stock on its own.
type Report struct {
	RunAt    time.Time     `json:"run_at"`
	Duration time.Duration `json:"duration"`
	Findings []Finding     `json:"findings"`
	Critical int           `json:"critical"`
	Warnings int           `json:"warnings"`
	Infos    int           `json:"infos"`
}

// Clean reports whether the run found nothing above INFO.
func (r Report) Clean() bool {
	return r.Critical == 0 && r.Warnings == 0
}

func (r *Report) add(f Finding) {
	r.Findings = append(r.Findings, f)
	switch f.Severity {
	case SeverityCritical:
		r.Critical++
	case SeverityWarn:
		r.Warnings++
	default:
		r.Infos++
	}
}
