package probe

// Record is one submitted (id, url) pair.
type Record struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Target is a Record that passed normalization and is safe to probe.
type Target struct {
	// ID is copied from the originating Record.
	ID string
	// Raw is the string exactly as submitted.
	Raw string
	// URL is the normalized URL with an explicit http or https scheme.
	URL string
	// Scheme is the scheme actually present in URL.
	Scheme string
	// Protocol is the label reported on the outcome. It is always DefaultProtocol.
	Protocol string
}

// Kind classifies how a probe ended.
type Kind string

// Outcome kinds.
const (
	KindResponded   Kind = "responded"
	KindInvalid     Kind = "invalid"
	KindUnreachable Kind = "unreachable"
	KindCanceled    Kind = "canceled"
	KindInternal    Kind = "internal"
)

// Outcome is the immutable result of probing one Record.
type Outcome struct {
	ID            string `json:"id"`
	Domain        string `json:"domain"`
	Protocol      string `json:"protocol"`
	StatusCode    int    `json:"response_code"`
	LatencyMillis int64  `json:"response_time"`
	Summary       string `json:"full_response"`
	Kind          Kind   `json:"kind"`
}

// Success reports whether the outcome counts towards the success tally.
func (o Outcome) Success() bool {
	return o.StatusCode == 200
}

// Snapshot is a point-in-time copy of a batch's aggregate counters.
type Snapshot struct {
	SuccessCount     int         `json:"success_count"`
	FailureCount     int         `json:"unsuccess_count"`
	TotalRecords     int         `json:"total_records"`
	RecordsProcessed int         `json:"records_processed"`
	StatusCodes      map[int]int `json:"status_code_stats"`
}

// Event pairs one outcome with the aggregate snapshot taken right after it was
// recorded. It is the unit written to the response stream.
type Event struct {
	BatchID string `json:"batch_id,omitempty"`
	Snapshot
	Result Outcome `json:"result"`
	// Error is set only when the unit producing Result failed internally.
	Error string `json:"error,omitempty"`
}
