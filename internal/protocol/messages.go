package protocol

// Job kinds accepted by START_JOB.
const (
	JobBuild    = "BUILD"
	JobClear    = "CLEAR"
	JobMaintain = "MAINTAIN"
	JobCustom   = "CUSTOM"
)

// START_JOB (owner -> server)
type StartJobReq struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	OwnerID         string `json:"owner_id"`
	WorldID         string `json:"world_id"`
	Kind            string `json:"kind"`
	UniqueKey       string `json:"unique_key,omitempty"`
	RequiredUnits   int    `json:"required_units,omitempty"`
	Priority        int    `json:"priority,omitempty"`

	// BUILD
	BlueprintID string `json:"blueprint_id,omitempty"`
	Anchor      [3]int `json:"anchor,omitempty"`
	Rotation    int    `json:"rotation,omitempty"`

	// CLEAR / MAINTAIN
	Min [3]int `json:"min,omitempty"`
	Max [3]int `json:"max,omitempty"`

	// CUSTOM
	Tasks []TaskSpec `json:"tasks,omitempty"`
}

type TaskSpec struct {
	Kind     string      `json:"kind"`
	Pos      [3]int      `json:"pos"`
	Block    string      `json:"block,omitempty"`
	Items    []ItemCount `json:"items,omitempty"`
	Radius   int         `json:"radius,omitempty"`
	Priority int         `json:"priority,omitempty"`
}

type ItemCount struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

// JOB_STARTED (server -> owner)
type StartJobResp struct {
	Type          string `json:"type"`
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	TaskCount     int    `json:"task_count"`
	RequiredUnits int    `json:"required_units"`
	Contributed   int    `json:"contributed"`
}

// CANCEL_JOB (owner -> server). An empty JobID cancels every job of OwnerID.
type CancelJobReq struct {
	Type    string `json:"type"`
	JobID   string `json:"job_id,omitempty"`
	OwnerID string `json:"owner_id,omitempty"`
}

type CancelJobResp struct {
	Type      string `json:"type"`
	Cancelled int    `json:"cancelled"`
}

type ErrorResp struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PROGRESS (server -> observers)
type ProgressMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	Tick            uint64        `json:"tick"`
	TotalTasks      int           `json:"total_tasks"`
	CompletedTasks  int           `json:"completed_tasks"`
	ActiveAgents    int           `json:"active_agents"`
	Jobs            []JobProgress `json:"jobs"`
}

type JobProgress struct {
	JobID      string  `json:"job_id"`
	OwnerID    string  `json:"owner_id,omitempty"`
	WorldID    string  `json:"world_id"`
	Kind       string  `json:"kind,omitempty"`
	Status     string  `json:"status"`
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Pending    int     `json:"pending"`
	InProgress int     `json:"in_progress"`
	Cancelled  int     `json:"cancelled"`
	Required   int     `json:"required_units"`
	Committed  int     `json:"committed_units"`
	Progress   float64 `json:"progress"`
}

type JobsResp struct {
	Type string        `json:"type"`
	Tick uint64        `json:"tick"`
	Jobs []JobProgress `json:"jobs"`
}

// Job lifecycle event types.
const (
	EventJobStarted   = "JOB_STARTED"
	EventJobRejected  = "JOB_REJECTED"
	EventJobCancelled = "JOB_CANCELLED"
	EventJobCompleted = "JOB_COMPLETED"
)

// JobEvent is one line of the job history.
type JobEvent struct {
	Tick        uint64 `json:"tick"`
	Type        string `json:"type"`
	JobID       string `json:"job_id,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"`
	WorldID     string `json:"world_id,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Status      string `json:"status,omitempty"`
	Tasks       int    `json:"tasks,omitempty"`
	Required    int    `json:"required_units,omitempty"`
	Contributed int    `json:"contributed_units,omitempty"`
	Code        string `json:"code,omitempty"`
	Reason      string `json:"reason,omitempty"`
}
