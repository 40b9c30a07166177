package probe

import "time"

// Fixed response summaries for outcomes that never reached a server.
const (
	SummaryInvalid       = "INVALID domain or URL"
	SummaryRequestFailed = "Error making request"
	SummaryCanceled      = "Request canceled"
	SummaryInternal      = "Internal Server Error"
)

// InternalErrorMarker is the Event.Error value for units that failed internally.
const InternalErrorMarker = "internal server error"

// InvalidOutcome reports a record rejected by Normalize. No request is made.
func InvalidOutcome(rec Record) Outcome {
	return Outcome{
		ID:      rec.ID,
		Domain:  rec.URL,
		Summary: SummaryInvalid,
		Kind:    KindInvalid,
	}
}

// UnreachableOutcome reports a transport failure for a valid target.
func UnreachableOutcome(t Target, latency time.Duration) Outcome {
	return Outcome{
		ID:            t.ID,
		Domain:        t.Raw,
		Protocol:      t.Protocol,
		LatencyMillis: latency.Milliseconds(),
		Summary:       SummaryRequestFailed,
		Kind:          KindUnreachable,
	}
}

// RespondedOutcome reports a response received from the target.
func RespondedOutcome(t Target, status int, latency time.Duration, summary string) Outcome {
	return Outcome{
		ID:            t.ID,
		Domain:        t.Raw,
		Protocol:      t.Protocol,
		StatusCode:    status,
		LatencyMillis: latency.Milliseconds(),
		Summary:       summary,
		Kind:          KindResponded,
	}
}

// CanceledOutcome reports a record whose probe was abandoned because the batch
// context ended before it could run.
func CanceledOutcome(rec Record) Outcome {
	return Outcome{
		ID:      rec.ID,
		Domain:  rec.URL,
		Summary: SummaryCanceled,
		Kind:    KindCanceled,
	}
}

// InternalOutcome reports a record whose unit of work failed unexpectedly.
func InternalOutcome(rec Record) Outcome {
	return Outcome{
		ID:      rec.ID,
		Domain:  rec.URL,
		Summary: SummaryInternal,
		Kind:    KindInternal,
	}
}
