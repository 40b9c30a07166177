package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageBatchStart Stage = "BATCH_START"
	StageProbeDone  Stage = "PROBE_DONE"
	StageBatchDone  Stage = "BATCH_DONE"
)

// Batch results reported on BATCH_DONE events.
const (
	ResultComplete = "complete"
	ResultCanceled = "canceled"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported status classes. StatusNone covers probes that never got a response.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
	StatusNone  StatusClass = "none"
)

// Event captures one step of a batch.
type Event struct {
	// BatchID identifies the batch the event belongs to.
	BatchID string
	// TS is the timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Total is the number of records in the batch (BATCH_START only).
	Total int
	// Site is the lower-cased host of a probed URL, empty for invalid records.
	Site string
	// URL is the record's URL as submitted.
	URL         string
	StatusCode  int
	StatusClass StatusClass
	// Kind mirrors probe.Kind for PROBE_DONE events.
	Kind string
	// Dur is the probe latency, or the batch wall time on BATCH_DONE.
	Dur time.Duration
	// Result is ResultComplete or ResultCanceled on BATCH_DONE.
	Result string
	// Note carries low-volume debug context such as a recovered panic.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.BatchID == "" {
		return errors.New("batch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBatchStart:
		if e.Total < 0 {
			return errors.New("batch start requires a non-negative total")
		}
	case StageProbeDone:
		if e.StatusClass == "" {
			return errors.New("probe done requires status class")
		}
	case StageBatchDone:
		if e.Result == "" {
			return errors.New("batch done requires result")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes. Zero means no response was received.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code == 0:
		return StatusNone
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
