package process

import (
	"strconv"
	"time"
)

// Status is a point-in-time snapshot of the capture process state.
type Status struct {
	Name       string    `json:"name"`
	Running    bool      `json:"running"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at"`
	ExitErr    error     `json:"-"`
	DetectedBy string    `json:"detected_by,omitempty"`
	Restarts   int       `json:"restarts"`
}

// SessionID identifies one incarnation of the capture process; it stays
// stable across status snapshots of the same run.
func (s Status) SessionID() string {
	if s.PID == 0 || s.StartedAt.IsZero() {
		return ""
	}
	return sessionID(s.PID, s.StartedAt)
}

func sessionID(pid int, startedAt time.Time) string {
	return strconv.Itoa(pid) + ":" + strconv.FormatInt(startedAt.UnixNano(), 10)
}
