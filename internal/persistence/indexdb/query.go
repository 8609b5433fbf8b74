package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"hivework.ai/internal/protocol"
)

// JobRecord is the indexed summary of one job.
type JobRecord struct {
	JobID       string `json:"job_id"`
	OwnerID     string `json:"owner_id"`
	WorldID     string `json:"world_id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Tasks       int    `json:"tasks"`
	Required    int    `json:"required_units"`
	Contributed int    `json:"contributed_units"`
	StartedTick uint64 `json:"started_tick"`
	EndedTick   uint64 `json:"ended_tick,omitempty"`
}

// History is everything the index holds for one job.
type History struct {
	Job      *JobRecord             `json:"job,omitempty"`
	Events   []protocol.JobEvent    `json:"events"`
	Progress []protocol.JobProgress `json:"progress"`
	Ticks    []uint64               `json:"progress_ticks"`
}

// JobHistory reads the indexed events and progress samples of jobID in
// recording order. Writes still queued are not visible.
func (s *SQLiteIndex) JobHistory(ctx context.Context, jobID string) (History, error) {
	h := History{Events: []protocol.JobEvent{}, Progress: []protocol.JobProgress{}, Ticks: []uint64{}}
	err := retryOp(ctx, defaultRetry, func() error {
		var err error
		h.Job, err = s.jobRecord(ctx, jobID)
		if err != nil {
			return err
		}
		h.Events, err = s.jobEvents(ctx, jobID)
		if err != nil {
			return err
		}
		h.Progress, h.Ticks, err = s.jobProgress(ctx, jobID)
		return err
	})
	return h, err
}

func (s *SQLiteIndex) jobRecord(ctx context.Context, jobID string) (*JobRecord, error) {
	row := s.ro.QueryRowContext(ctx, `SELECT job_id,owner_id,world_id,kind,status,tasks,required,contributed,started_tick,ended_tick
		FROM jobs WHERE job_id=?`, jobID)
	var (
		r     JobRecord
		ended sql.NullInt64
	)
	if err := row.Scan(&r.JobID, &r.OwnerID, &r.WorldID, &r.Kind, &r.Status, &r.Tasks, &r.Required, &r.Contributed, &r.StartedTick, &ended); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if ended.Valid {
		r.EndedTick = uint64(ended.Int64)
	}
	return &r, nil
}

func (s *SQLiteIndex) jobEvents(ctx context.Context, jobID string) ([]protocol.JobEvent, error) {
	rows, err := s.ro.QueryContext(ctx, `SELECT raw_json FROM job_events WHERE job_id=? ORDER BY seq`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []protocol.JobEvent{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var ev protocol.JobEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) jobProgress(ctx context.Context, jobID string) ([]protocol.JobProgress, []uint64, error) {
	rows, err := s.ro.QueryContext(ctx, `SELECT tick,status,total,completed,in_progress,committed,progress
		FROM job_progress WHERE job_id=? ORDER BY tick`, jobID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var (
		out   = []protocol.JobProgress{}
		ticks = []uint64{}
	)
	for rows.Next() {
		var (
			tick uint64
			p    = protocol.JobProgress{JobID: jobID}
		)
		if err := rows.Scan(&tick, &p.Status, &p.Total, &p.Completed, &p.InProgress, &p.Committed, &p.Progress); err != nil {
			return nil, nil, err
		}
		out = append(out, p)
		ticks = append(ticks, tick)
	}
	return out, ticks, rows.Err()
}
