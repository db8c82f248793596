package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math/big"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/results-harvester/internal/batch"
	"github.com/JakeFAU/results-harvester/internal/hallticket"
	"github.com/JakeFAU/results-harvester/internal/partition"
	"github.com/JakeFAU/results-harvester/internal/results"
)

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "hall_ticket")
	res, err := s.deps.Lookup.Lookup(r.Context(), id)
	switch {
	case errors.Is(err, results.ErrInvalidIdentifier):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, results.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "result temporarily unavailable, try again later")
	case err != nil:
		s.logger.Error("lookup failed", zap.String("hall_ticket", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
	case res.Source == results.SourceNotFound:
		writeJSON(w, http.StatusNotFound, map[string]string{"source": string(res.Source), "error": "result not found"})
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// batchRequest is the wire form of batch.Request with the delay in milliseconds.
type batchRequest struct {
	ExamCode string `json:"exam_code"`
	Profile  string `json:"profile"`
	Offset   int64  `json:"offset"`
	Limit    int64  `json:"limit"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Width    int    `json:"width"`
	Workers  int    `json:"workers"`
	DelayMS  *int64 `json:"delay_ms"`
}

func (b batchRequest) toRequest() batch.Request {
	req := batch.Request{
		ExamCode:   b.ExamCode,
		Profile:    b.Profile,
		Offset:     b.Offset,
		Limit:      b.Limit,
		RangeStart: b.Start,
		RangeEnd:   b.End,
		Width:      b.Width,
		Workers:    b.Workers,
	}
	if b.DelayMS != nil {
		req.Delay = time.Duration(*b.DelayMS) * time.Millisecond
	}
	return req
}

func decodeBatchRequest(r *http.Request) (batch.Request, error) {
	var body batchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return batch.Request{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return body.toRequest(), nil
}

func (s *Server) planBatch(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBatchRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	plan, err := s.deps.Batches.Plan(req)
	if err != nil {
		s.writeBatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBatchRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.deps.Batches.Submit(r.Context(), req)
	if err != nil {
		if b.ID != "" {
			// The batch exists but some chunks never reached the queue.
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"batch": b, "error": err.Error()})
			return
		}
		s.writeBatchError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"batch_id": b.ID, "batch": b})
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Batches.Get(r.Context(), chi.URLParam(r, "batch_id"))
	if err != nil {
		s.writeBatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) cancelBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Batches.Cancel(r.Context(), chi.URLParam(r, "batch_id"))
	if err != nil {
		s.writeBatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) writeBatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, batch.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, results.ErrNotFound):
		writeError(w, http.StatusNotFound, "batch not found")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "queue full, try again later")
	default:
		s.logger.Error("batch request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "batch request failed")
	}
}

type workerRequest struct {
	ExamCode string   `json:"exam_code"`
	IDs      []string `json:"ids"`
	Start    string   `json:"start"`
	End      string   `json:"end"`
	Width    int      `json:"width"`
	DelayMS  *int64   `json:"delay_ms"`
}

type workerResponse struct {
	Processed       int      `json:"processed"`
	Success         int      `json:"success"`
	NotFound        int      `json:"not_found"`
	ParseIncomplete int      `json:"parse_incomplete"`
	FailedCount     int      `json:"failed_count"`
	Failed          []string `json:"failed,omitempty"`
}

// runWorker processes one chunk inline, for callers that fan out chunks
// themselves instead of submitting a batch.
func (s *Server) runWorker(w http.ResponseWriter, r *http.Request) {
	var req workerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ids, err := s.workerIDs(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	examCode := req.ExamCode
	if examCode == "" {
		examCode = s.cfg.ExamCode
	}
	delay := s.cfg.Delay
	if req.DelayMS != nil {
		if *req.DelayMS < 0 {
			writeError(w, http.StatusBadRequest, "delay_ms must be >= 0")
			return
		}
		delay = time.Duration(*req.DelayMS) * time.Millisecond
	}

	stats := s.deps.Worker.ProcessChunk(r.Context(), ids, examCode, delay)
	s.logger.Info("inline chunk finished",
		zap.String("request_id", requestID(r.Context())),
		zap.Int("processed", stats.Processed),
		zap.Int("success", stats.Success),
		zap.Int("failed", stats.FailedCount()),
	)
	writeJSON(w, http.StatusOK, workerResponse{
		Processed:       stats.Processed,
		Success:         stats.Success,
		NotFound:        stats.NotFound,
		ParseIncomplete: stats.ParseIncomplete,
		FailedCount:     stats.FailedCount(),
		Failed:          stats.Failed,
	})
}

func (s *Server) workerIDs(req workerRequest) (iter.Seq[string], error) {
	hasRange := req.Start != "" || req.End != ""
	switch {
	case len(req.IDs) > 0 && hasRange:
		return nil, errors.New("ids and start/end are mutually exclusive")
	case len(req.IDs) > 0:
		if int64(len(req.IDs)) > s.cfg.MaxWorkerIDs {
			return nil, fmt.Errorf("at most %d ids per call", s.cfg.MaxWorkerIDs)
		}
		return slices.Values(req.IDs), nil
	case hasRange:
		start, err := partition.ParseBound(req.Start)
		if err != nil {
			return nil, err
		}
		end, err := partition.ParseBound(req.End)
		if err != nil {
			return nil, err
		}
		if start.Sign() < 0 || end.Cmp(start) < 0 {
			return nil, errors.New("range must satisfy 0 <= start <= end")
		}
		span := new(big.Int).Sub(end, start)
		if span.Cmp(big.NewInt(s.cfg.MaxWorkerIDs)) >= 0 {
			return nil, fmt.Errorf("at most %d ids per call", s.cfg.MaxWorkerIDs)
		}
		width := req.Width
		if width == 0 {
			width = len(req.End)
		}
		return partition.RangeChunk{Start: start, End: end}.Numbers(width), nil
	default:
		return nil, errors.New("ids or start/end required")
	}
}

type profileSummary struct {
	Name        string                  `json:"name"`
	Count       int64                   `json:"count"`
	Regulations []hallticket.Regulation `json:"regulations"`
	Colleges    int                     `json:"colleges"`
	Branches    int                     `json:"branches"`
}

func summarize(p *hallticket.Profile) profileSummary {
	return profileSummary{
		Name:        p.Name,
		Count:       p.Count(),
		Regulations: p.Regulations,
		Colleges:    len(p.Colleges),
		Branches:    len(p.Branches),
	}
}

func (s *Server) listProfiles(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Profiles == nil {
		writeJSON(w, http.StatusOK, map[string]any{"profiles": []profileSummary{}})
		return
	}
	profiles := s.deps.Profiles.Profiles()
	out := make([]profileSummary, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, summarize(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": out})
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Profiles == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	p, err := s.deps.Profiles.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile":   summarize(p),
		"breakdown": p.Breakdown(),
	})
}
