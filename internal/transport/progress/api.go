package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"hivework.ai/internal/persistence/indexdb"
	"hivework.ai/internal/protocol"
	"hivework.ai/internal/sim/session"
)

const maxBodyBytes = 1 << 20

// JobService is the owner-facing side of a session.
type JobService interface {
	StartJob(req protocol.StartJobReq) (protocol.StartJobResp, error)
	CancelJob(jobID string) error
	CancelAllJobs(ownerID string) int
	Jobs() []protocol.JobProgress
	CurrentTick() uint64
}

type HistoryReader interface {
	JobHistory(ctx context.Context, jobID string) (indexdb.History, error)
}

// API serves the job command endpoints.
type API struct {
	jobs    JobService
	history HistoryReader
	log     *log.Logger
}

// NewAPI builds the handlers. history may be nil when no index is configured.
func NewAPI(jobs JobService, history HistoryReader, logger *log.Logger) *API {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &API{jobs: jobs, history: history, log: logger}
}

// Register mounts the API and the progress stream on mux.
func (a *API) Register(mux *http.ServeMux, hub *Hub) {
	mux.HandleFunc("/v1/jobs", a.JobsHandler())
	mux.HandleFunc("/v1/jobs/cancel", a.CancelHandler())
	mux.HandleFunc("/v1/jobs/history", a.HistoryHandler())
	if hub != nil {
		mux.HandleFunc("/v1/progress/ws", hub.WSHandler())
	}
}

// JobsHandler lists jobs on GET and starts one on POST.
func (a *API) JobsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			owner := r.URL.Query().Get("owner_id")
			list := make([]protocol.JobProgress, 0)
			for _, j := range a.jobs.Jobs() {
				if owner == "" || j.OwnerID == owner {
					list = append(list, j)
				}
			}
			writeJSON(rw, http.StatusOK, protocol.JobsResp{Type: protocol.TypeJobs, Tick: a.jobs.CurrentTick(), Jobs: list})
		case http.MethodPost:
			a.startJob(rw, r)
		default:
			rw.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func (a *API) startJob(rw http.ResponseWriter, r *http.Request) {
	raw, err := readBody(rw, r)
	if err != nil {
		writeError(rw, protocol.ErrBadRequest, err.Error())
		return
	}
	if err := checkType(raw, protocol.TypeStartJob); err != nil {
		writeError(rw, protocol.ErrBadRequest, err.Error())
		return
	}
	if err := protocol.Validate(protocol.SchemaStartJob, raw); err != nil {
		writeError(rw, protocol.ErrBadRequest, err.Error())
		return
	}
	var req protocol.StartJobReq
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(rw, protocol.ErrBadRequest, err.Error())
		return
	}
	if req.ProtocolVersion != "" && req.ProtocolVersion != protocol.Version {
		writeError(rw, protocol.ErrBadRequest, fmt.Sprintf("unsupported protocol_version %q", req.ProtocolVersion))
		return
	}
	resp, err := a.jobs.StartJob(req)
	if err != nil {
		writeError(rw, session.ErrorCode(err), err.Error())
		return
	}
	writeJSON(rw, http.StatusCreated, resp)
}

func (a *API) CancelHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		raw, err := readBody(rw, r)
		if err != nil {
			writeError(rw, protocol.ErrBadRequest, err.Error())
			return
		}
		if err := checkType(raw, protocol.TypeCancelJob); err != nil {
			writeError(rw, protocol.ErrBadRequest, err.Error())
			return
		}
		if err := protocol.Validate(protocol.SchemaCancelJob, raw); err != nil {
			writeError(rw, protocol.ErrBadRequest, err.Error())
			return
		}
		var req protocol.CancelJobReq
		if err := json.Unmarshal(raw, &req); err != nil {
			writeError(rw, protocol.ErrBadRequest, err.Error())
			return
		}

		n := 0
		if req.JobID != "" {
			if err := a.jobs.CancelJob(req.JobID); err != nil {
				writeError(rw, session.ErrorCode(err), err.Error())
				return
			}
			n = 1
		} else {
			n = a.jobs.CancelAllJobs(req.OwnerID)
		}
		writeJSON(rw, http.StatusOK, protocol.CancelJobResp{Type: protocol.TypeCancelled, Cancelled: n})
	}
}

// HistoryHandler serves GET /v1/jobs/history?job_id= from the index.
func (a *API) HistoryHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if a.history == nil {
			writeError(rw, protocol.ErrNotFound, "history index disabled")
			return
		}
		id := r.URL.Query().Get("job_id")
		if id == "" {
			writeError(rw, protocol.ErrBadRequest, "missing job_id")
			return
		}
		h, err := a.history.JobHistory(r.Context(), id)
		if err != nil {
			a.log.Printf("history %s: %v", id, err)
			writeError(rw, protocol.ErrInternal, "history unavailable")
			return
		}
		if h.Job == nil && len(h.Events) == 0 {
			writeError(rw, protocol.ErrNotFound, "job not found")
			return
		}
		writeJSON(rw, http.StatusOK, h)
	}
}

func readBody(rw http.ResponseWriter, r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxBodyBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, fmt.Errorf("request body over %d bytes", tooBig.Limit)
		}
		return nil, err
	}
	return raw, nil
}

// checkType rejects malformed JSON and commands posted to the wrong endpoint
// before the full schema runs.
func checkType(raw []byte, want string) error {
	base, err := protocol.DecodeBase(raw)
	if err != nil {
		return fmt.Errorf("malformed json: %w", err)
	}
	if base.Type != want {
		return fmt.Errorf("expected type %s, got %q", want, base.Type)
	}
	return nil
}

// HTTPStatus maps a wire error code onto the response status.
func HTTPStatus(code string) int {
	switch code {
	case protocol.ErrBadRequest:
		return http.StatusBadRequest
	case protocol.ErrInvalidTarget, protocol.ErrNothingToDo:
		return http.StatusUnprocessableEntity
	case protocol.ErrNoSource, protocol.ErrOutOfRange, protocol.ErrConflict:
		return http.StatusConflict
	case protocol.ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(rw http.ResponseWriter, code, msg string) {
	writeJSON(rw, HTTPStatus(code), protocol.ErrorResp{Type: protocol.TypeError, Code: code, Message: msg})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
