package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/urlhealth/internal/aggregate"
	"github.com/JakeFAU/urlhealth/internal/dispatcher"
	"github.com/JakeFAU/urlhealth/internal/intake"
	"github.com/JakeFAU/urlhealth/internal/probe"
)

func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	records, err := intake.DecodeJSON(r.Body)
	if err != nil {
		s.rejectPayload(w, r, err, "invalid JSON records payload")
		return
	}
	s.stream(w, r, records)
}

func (s *Server) processCSV(w http.ResponseWriter, r *http.Request) {
	records, stats, err := intake.ParseCSV(r.Body)
	w.Header().Set(headerDroppedEmpty, strconv.Itoa(stats.DroppedEmpty))
	w.Header().Set(headerDroppedDuplicate, strconv.Itoa(stats.DroppedDuplicate))
	if err != nil {
		msg := "invalid CSV upload"
		if errors.Is(err, intake.ErrNoRecords) {
			msg = "no valid data in CSV file"
		}
		s.rejectPayload(w, r, err, msg)
		return
	}
	if stats.DroppedEmpty > 0 || stats.DroppedDuplicate > 0 {
		s.logger.Info("csv upload cleaned",
			zap.Int("rows", stats.Rows),
			zap.Int("dropped_empty", stats.DroppedEmpty),
			zap.Int("dropped_duplicate", stats.DroppedDuplicate),
			zap.String("request_id", RequestID(r.Context())),
		)
	}
	s.stream(w, r, records)
}

func (s *Server) rejectPayload(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := http.StatusBadRequest
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		status = http.StatusRequestEntityTooLarge
		msg = "request body too large"
	}
	s.logger.Debug("payload rejected",
		zap.Error(err),
		zap.Int("status", status),
		zap.String("request_id", RequestID(r.Context())),
	)
	writeError(w, status, msg)
}

// stream runs one batch and writes every event as it arrives. Once the
// response has started, write failures only stop output; the batch keeps
// draining so its resources are released when the request context ends.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, records []probe.Record) {
	batchID, err := s.idGen.NewID()
	if err != nil {
		s.logger.Error("batch id generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	logger := s.logger.With(
		zap.String("batch_id", batchID),
		zap.String("request_id", RequestID(r.Context())),
	)

	w.Header().Set(headerBatchID, batchID)
	out := newEventStream(w, negotiateFormat(r))
	writeErr := out.Start()

	start := time.Now()
	state := aggregate.New()
	events := s.runner.Run(r.Context(), dispatcher.Batch{ID: batchID, Records: records}, s.limiters(), state)
	for evt := range events {
		if writeErr != nil {
			continue
		}
		if writeErr = out.Write(evt); writeErr != nil {
			logger.Warn("stream write failed", zap.Error(writeErr))
		}
	}

	snap := state.Snapshot()
	logger.Info("batch finished",
		zap.String("format", out.format),
		zap.Int("total", snap.TotalRecords),
		zap.Int("processed", snap.RecordsProcessed),
		zap.Int("success", snap.SuccessCount),
		zap.Int("failure", snap.FailureCount),
		zap.Bool("canceled", r.Context().Err() != nil),
		zap.Duration("duration", time.Since(start)),
	)
}
