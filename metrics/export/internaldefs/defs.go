package internaldefs

import (
	voiceGate "github.com/MrEthical07/voiceGate"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   voiceGate.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   voiceGate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: voiceGate.MetricChallengeIssued, Name: "voicegate_challenge_issued_total", Help: "Knowledge challenges issued."},
	{ID: voiceGate.MetricChallengeRateLimited, Name: "voicegate_challenge_rate_limited_total", Help: "Challenge requests denied by the per-user throttle."},
	{ID: voiceGate.MetricChallengeUnavailable, Name: "voicegate_challenge_unavailable_total", Help: "Challenge requests for users without any answered question."},
	{ID: voiceGate.MetricVerifyAttempt, Name: "voicegate_verify_attempt_total", Help: "Counted verification attempts."},
	{ID: voiceGate.MetricVerifyApproved, Name: "voicegate_verify_approved_total", Help: "Attempts that approved their transaction."},
	{ID: voiceGate.MetricVerifyRetry, Name: "voicegate_verify_retry_total", Help: "Failed attempts with attempts remaining."},
	{ID: voiceGate.MetricVerifyDenied, Name: "voicegate_verify_denied_total", Help: "Attempts that denied their transaction at the attempt ceiling."},
	{ID: voiceGate.MetricVerifyClosed, Name: "voicegate_verify_closed_total", Help: "Submissions against already approved or denied transactions."},
	{ID: voiceGate.MetricVerifyRejected, Name: "voicegate_verify_rejected_total", Help: "Submissions rejected before evaluation."},
	{ID: voiceGate.MetricVoiceMismatch, Name: "voicegate_voice_mismatch_total", Help: "Evaluations where the speaker did not match."},
	{ID: voiceGate.MetricContentMismatch, Name: "voicegate_content_mismatch_total", Help: "Evaluations where the spoken answer did not match."},
	{ID: voiceGate.MetricServiceDegraded, Name: "voicegate_service_degraded_total", Help: "Evaluations with a failed voice or transcription call."},
	{ID: voiceGate.MetricTransactionOpened, Name: "voicegate_transaction_opened_total", Help: "Pending transactions opened."},
	{ID: voiceGate.MetricTransactionRejected, Name: "voicegate_transaction_rejected_total", Help: "Transactions rejected by preconditions."},
	{ID: voiceGate.MetricTransactionCommitted, Name: "voicegate_transaction_committed_total", Help: "Approved transactions applied to the ledger."},
	{ID: voiceGate.MetricCommitReplay, Name: "voicegate_commit_replay_total", Help: "Completion requests answered from an earlier commit."},
}

// LabelValue maps one label value of a labelled series to its counter.
type LabelValue struct {
	Value string
	ID    voiceGate.MetricID
}

// LabelledDef is a counter family split by one label.
type LabelledDef struct {
	Name   string
	Help   string
	Label  string
	Values []LabelValue
}

// VerifyOutcomes is the per-outcome view of the verification counters.
var VerifyOutcomes = LabelledDef{
	Name:  "voicegate_verify_outcomes_total",
	Help:  "Verification submissions by outcome.",
	Label: "outcome",
	Values: []LabelValue{
		{Value: "approved", ID: voiceGate.MetricVerifyApproved},
		{Value: "retry", ID: voiceGate.MetricVerifyRetry},
		{Value: "denied", ID: voiceGate.MetricVerifyDenied},
		{Value: "closed", ID: voiceGate.MetricVerifyClosed},
		{Value: "rejected", ID: voiceGate.MetricVerifyRejected},
	},
}

const (
	AuditDroppedByEventName  = "voicegate_audit_dropped_by_event_total"
	AuditDroppedByEventHelp  = "Audit events lost to dispatcher backpressure, by event type."
	AuditDroppedByEventLabel = "event"
)

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: voiceGate.MetricEvaluateLatency, Name: "voicegate_evaluate_latency_seconds", Help: "Voice and content evaluation latency."},
}

// HistogramBounds are the upper bucket bounds in seconds, matching the
// engine's fixed latency buckets.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// HistogramBoundSuffix is the instrument name suffix for each bound.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets does not mutate shared global state and can be used concurrently.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
