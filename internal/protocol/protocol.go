package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeStartJob   = "START_JOB"
	TypeJobStarted = "JOB_STARTED"
	TypeCancelJob  = "CANCEL_JOB"
	TypeCancelled  = "CANCELLED"
	TypeProgress   = "PROGRESS"
	TypeJobs       = "JOBS"
	TypeError      = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
