package types

import (
	"time"
)

// ConnectionState is the lifecycle state of a stream connection
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateOpen         ConnectionState = "open"
	StateClosing      ConnectionState = "closing"
	StateClosed       ConnectionState = "closed"
	StateReconnecting ConnectionState = "reconnecting"
	StateFailed       ConnectionState = "failed"
)

// Terminal reports whether no further transitions can follow this state
// without an explicit restart by the caller.
func (s ConnectionState) Terminal() bool {
	return s == StateFailed
}

// StateChange describes one ConnectionState transition
type StateChange struct {
	From ConnectionState
	To   ConnectionState

	// Err is set on transitions to closed caused by a transport error or a
	// remote close, and on the transition to failed.
	Err error

	// Attempt is the reconnect attempt counter after the transition
	Attempt int

	// Delay is the backoff delay, set on transitions to reconnecting
	Delay time.Duration

	At time.Time
}

// ChannelKind identifies which server-side stream a channel addresses
type ChannelKind string

const (
	ChannelLogs   ChannelKind = "logs"
	ChannelMirror ChannelKind = "mirror"
)

// Channel describes the scope of a stream subscription
type Channel struct {
	Kind    ChannelKind
	LogType string // logs only: access, error
	Domain  string // logs only, optional site scope
	JobID   string // mirror only
}

// String returns a short human readable name for the channel
func (c Channel) String() string {
	switch c.Kind {
	case ChannelLogs:
		if c.Domain != "" {
			return "logs/" + c.LogType + "@" + c.Domain
		}
		return "logs/" + c.LogType
	case ChannelMirror:
		return "mirror/" + c.JobID
	default:
		return string(c.Kind)
	}
}

// LogSnapshot is the full ordered view of a log tail handed to renderers
type LogSnapshot struct {
	LogType    string
	Domain     string
	Lines      []string
	Evicted    int // lines dropped from the front since the session started
	AutoScroll bool
}

// Task is one download of a mirror job, identified by URL
type Task struct {
	URL        string `json:"url"`
	Status     string `json:"status,omitempty"`
	Progress   int    `json:"progress"`
	Downloaded int64  `json:"downloaded"`
	TotalSize  int64  `json:"size"`
	Error      string `json:"error,omitempty"`
	Retries    int    `json:"retries,omitempty"`
}

// ProgressLogEntry is one line of a mirror job's rolling log excerpt
type ProgressLogEntry struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Well-known stats categories reported by the mirror job
const (
	StatTotal       = "total"
	StatPending     = "pending"
	StatDownloading = "downloading"
	StatCompleted   = "completed"
	StatFailed      = "failed"
)

// ProgressSnapshot is the latest known state of one mirror job
type ProgressSnapshot struct {
	JobID           string             `json:"job_id"`
	OverallProgress int                `json:"overall_progress"`
	Stats           map[string]int64   `json:"stats,omitempty"`
	CurrentTasks    []Task             `json:"current_tasks,omitempty"`
	Speed           *float64           `json:"speed,omitempty"` // bytes/sec
	ETASeconds      *float64           `json:"eta,omitempty"`
	Logs            []ProgressLogEntry `json:"logs,omitempty"`

	// LogsEvicted counts log entries dropped from the front by the cap, so
	// LogsEvicted+len(Logs) is the number of entries ever merged.
	LogsEvicted int `json:"logs_evicted,omitempty"`

	// Updates counts the messages merged into this snapshot
	Updates int `json:"updates"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Complete infers job completion from the counters. The server sends no
// terminal message, so this is only as reliable as its stats.
func (s ProgressSnapshot) Complete() bool {
	total := s.Stats[StatTotal]
	return total > 0 && s.Stats[StatCompleted] == total
}

// Clone returns a deep copy safe to hand to another goroutine
func (s ProgressSnapshot) Clone() ProgressSnapshot {
	out := s
	if s.Stats != nil {
		out.Stats = make(map[string]int64, len(s.Stats))
		for k, v := range s.Stats {
			out.Stats[k] = v
		}
	}
	if s.CurrentTasks != nil {
		out.CurrentTasks = append([]Task(nil), s.CurrentTasks...)
	}
	if s.Logs != nil {
		out.Logs = append([]ProgressLogEntry(nil), s.Logs...)
	}
	if s.Speed != nil {
		v := *s.Speed
		out.Speed = &v
	}
	if s.ETASeconds != nil {
		v := *s.ETASeconds
		out.ETASeconds = &v
	}
	return out
}

// JobStatus is the one-shot status of a mirror job fetched at session setup
type JobStatus struct {
	Exists    bool   `json:"exists"`
	Domain    string `json:"domain"`
	FileCount int    `json:"file_count"`
	Mirroring bool   `json:"mirroring"`
	SSL       bool   `json:"ssl"`
}

// NginxStatus is the proxy status reported by the panel
type NginxStatus struct {
	Running    bool                     `json:"running"`
	Version    string                   `json:"version"`
	ConfigTest string                   `json:"config_test"`
	Processes  []map[string]interface{} `json:"processes,omitempty"`
	Resources  map[string]interface{}   `json:"resources,omitempty"`
}

// Site is a virtual host known to the panel
type Site struct {
	Domain    string `json:"domain"`
	Port      int    `json:"port,omitempty"`
	SSL       bool   `json:"ssl"`
	RootPath  string `json:"root_path,omitempty"`
	ProxyPort int    `json:"proxy_port,omitempty"`
}

// DeployRequest creates a site. ProxyPort defaults to 9099 on the panel
// when zero.
type DeployRequest struct {
	Domain       string `json:"domain"`
	EnableSSL    bool   `json:"enable_ssl"`
	SSLEmail     string `json:"ssl_email,omitempty"`
	ProxyPort    int    `json:"proxy_port,omitempty"`
	CustomConfig string `json:"custom_config,omitempty"`
}

// SiteStatus is the deployment state of a single site
type SiteStatus struct {
	Domain  string                 `json:"domain"`
	Status  string                 `json:"status"`
	SSL     bool                   `json:"ssl"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// MirrorRequest starts a mirror job cloning SourceURL into Domain
type MirrorRequest struct {
	Domain    string `json:"domain"`
	SourceURL string `json:"url"`
	Depth     int    `json:"depth,omitempty"`
}

// ActionResult is the generic success/message envelope returned by mutating
// panel endpoints.
type ActionResult struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// PanelHealth is the panel's own health report from GET /health
type PanelHealth struct {
	Status       string             `json:"status"`
	NginxRunning *bool              `json:"nginx_running,omitempty"`
	SystemInfo   map[string]float64 `json:"system_info,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// Preferences are operator settings remembered between runs
type Preferences struct {
	APIURL      string    `json:"api_url,omitempty"`
	LastLogType string    `json:"last_log_type,omitempty"`
	LastDomain  string    `json:"last_domain,omitempty"`
	AutoScroll  bool      `json:"auto_scroll"`
	UpdatedAt   time.Time `json:"updated_at"`
}
