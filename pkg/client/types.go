package client

import (
	"fmt"
	"time"
)

// RestartRequest asks the world server to restart itself.
type RestartRequest struct {
	Delay    string `json:"delay"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// CommandRequest is one console command.
type CommandRequest struct {
	Command string `json:"command"`
}

// Detected is the host-level process check for one server.
type Detected struct {
	Running    bool          `json:"running"`
	PID        int           `json:"pid,omitempty"`
	DetectedBy string        `json:"detected_by,omitempty"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	Uptime     time.Duration `json:"uptime,omitempty"`
	CheckedAt  time.Time     `json:"checked_at"`
	Error      string        `json:"error,omitempty"`
}

// ServerStatus is the supervisor view of one server plus detection.
type ServerStatus struct {
	Role         string     `json:"role"`
	State        string     `json:"state"`
	PID          int        `json:"pid,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	LastExitCode *int       `json:"last_exit_code,omitempty"`
	LastCrashAt  *time.Time `json:"last_crash_at,omitempty"`
	Restarts     int        `json:"restarts"`
	Crashes      int        `json:"crashes"`
	Executable   string     `json:"executable"`
	LogFile      string     `json:"log_file,omitempty"`
	Detected     *Detected  `json:"detected,omitempty"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Servers []ServerStatus `json:"servers"`
}

// ResourceSample is one CPU/memory reading.
type ResourceSample struct {
	Role       string    `json:"role"`
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// DashboardStats are the realm figures.
type DashboardStats struct {
	OnlinePlayers int       `json:"online_players"`
	OnlineGMs     int       `json:"online_gms"`
	OpenTickets   int       `json:"open_tickets"`
	Alliance      int       `json:"alliance"`
	Horde         int       `json:"horde"`
	Live          bool      `json:"live"`
	UpdatedAt     time.Time `json:"updated_at"`
	Error         string    `json:"error,omitempty"`
}

// HistoryEvent is one lifecycle event.
type HistoryEvent struct {
	Type       string    `json:"type"`
	Role       string    `json:"role"`
	PID        int       `json:"pid"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Message    string    `json:"message,omitempty"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Method       string `json:"method"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// Token is a bearer token issued by the daemon.
type Token struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginResponse is the body returned by a successful login.
type LoginResponse struct {
	Success  bool     `json:"success"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	Token    *Token   `json:"token"`
}

// CronJob is one scheduled maintenance action and its run record.
type CronJob struct {
	Spec struct {
		Name     string `json:"name"`
		Schedule string `json:"schedule"`
		Action   string `json:"action"`
		Role     string `json:"role"`
		Delay    string `json:"delay,omitempty"`
		ExitCode *int   `json:"exit_code,omitempty"`
		Command  string `json:"command,omitempty"`
		Suspend  bool   `json:"suspend,omitempty"`
	} `json:"spec"`
	Status struct {
		LastScheduleTime   *time.Time `json:"last_schedule_time,omitempty"`
		LastSuccessfulTime *time.Time `json:"last_successful_time,omitempty"`
		LastError          string     `json:"last_error,omitempty"`
		Runs               int        `json:"runs"`
		Failures           int        `json:"failures"`
	} `json:"status"`
	Next *time.Time `json:"next,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}
