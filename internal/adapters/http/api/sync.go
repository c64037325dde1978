package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	service "github.com/okian/stakerank/internal/app"
	"github.com/okian/stakerank/internal/domain/auth"
	"github.com/okian/stakerank/internal/domain/leaderboard"
)

type syncResponse struct {
	Success bool `json:"success"`
	service.SyncResult
}

type recomputeRequest struct {
	Types []leaderboard.EntryType `json:"types"`
}

type recomputeResponse struct {
	Success    bool                    `json:"success"`
	Recomputed []leaderboard.EntryType `json:"recomputed"`
}

// handleSync serves POST /leaderboard/sync. The body is either a JSON array
// of records or an object with a "records" array.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	const op = "api.sync"
	credential := auth.FromHeader(r.Header.Get("Authorization"))

	records, err := s.decodeRecords(w, r)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}

	res, err := s.deps.Sync(r.Context(), credential, records)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	if res.Recomputed == nil {
		res.Recomputed = []leaderboard.EntryType{}
	}
	writeJSON(w, http.StatusOK, syncResponse{Success: true, SyncResult: res})
}

// handleRecompute serves POST /leaderboard/recompute. An empty body or an
// empty types list recomputes every type.
func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	const op = "api.recompute"
	credential := auth.FromHeader(r.Header.Get("Authorization"))

	var req recomputeRequest
	body, err := s.readBody(w, r)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.fail(w, r, op, fmt.Errorf("%w: malformed JSON body: %v", ErrBadRequest, err))
			return
		}
	}

	done, err := s.deps.Recompute(r.Context(), credential, req.Types)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	if done == nil {
		done = []leaderboard.EntryType{}
	}
	writeJSON(w, http.StatusOK, recomputeResponse{Success: true, Recomputed: done})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &leaderboard.ValidationError{Violations: []leaderboard.Violation{{
				Index: -1, Field: "body", Message: fmt.Sprintf("must be at most %d bytes", tooLarge.Limit),
			}}}
		}
		return nil, fmt.Errorf("%w: read body: %v", ErrBadRequest, err)
	}
	return body, nil
}

func (s *Server) decodeRecords(w http.ResponseWriter, r *http.Request) ([]leaderboard.StatRecord, error) {
	body, err := s.readBody(w, r)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, malformed("request body is empty")
	}

	var records []leaderboard.StatRecord
	if body[0] == '[' {
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, malformed(err.Error())
		}
		return records, nil
	}

	var envelope struct {
		Records []leaderboard.StatRecord `json:"records"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, malformed(err.Error())
	}
	return envelope.Records, nil
}

func malformed(reason string) error {
	return &leaderboard.ValidationError{Violations: []leaderboard.Violation{{
		Index: -1, Field: "body", Message: "malformed JSON: " + reason,
	}}}
}
