package storage

// ActivityEvent is one "window focus changed" record as produced by the
// desktop monitor. Timestamps are fractional epoch seconds. State true means
// the window opened (or is still active), false means it is closing.
type ActivityEvent struct {
	ID             string  `json:"id"`
	Timestamp      float64 `json:"timestamp"`
	Classification string  `json:"classification"`
	AppName        string  `json:"app_name"`
	WinTitle       string  `json:"win_title"`
	State          bool    `json:"state"`
	Screenshot     *string `json:"screenshot"`
	Icon           *string `json:"icon"`
}

// AppInterval is one contiguous period during which an application held
// foreground focus within a session. End is nil while the interval is open.
// Duration is derived from the timestamps and is always integer seconds.
type AppInterval struct {
	Name       string   `json:"name"`
	Title      string   `json:"title"`
	Start      float64  `json:"start"`
	End        *float64 `json:"end"`
	Duration   int64    `json:"duration"`
	Screenshot *string  `json:"screenshot"`
	Icon       *string  `json:"icon"`
}

// Session is the reconstructed activity period. A session may span several
// producer lineages when adjacent lineages carry the same classification.
// Invariant: at most one interval in Apps is open at a time.
type Session struct {
	ID             string        `json:"id"`
	Start          float64       `json:"start"`
	End            *float64      `json:"end"`
	Duration       int64         `json:"duration"`
	Classification string        `json:"classification"`
	Apps           []AppInterval `json:"apps"`
}

// Open reports whether the session has not been closed yet.
func (s *Session) Open() bool {
	return s.End == nil
}

// Checkpoint records where consumption resumes after a restart. Cursor is the
// stream id of the last acknowledged entry; LastLineage is the id of the most
// recently written session document and anchors continuation merging.
type Checkpoint struct {
	Cursor      string `json:"cursor"`
	LastLineage string `json:"last_lineage"`
}

// LogEntry is one raw entry read from the event log. Data is the JSON-encoded
// ActivityEvent payload, left undecoded so malformed payloads can be skipped
// and still acknowledged.
type LogEntry struct {
	ID   string
	Data string
}

// DayTotals holds the rebuilt totals for the current calendar day, in integer
// seconds, keyed by classification label and by application name.
type DayTotals struct {
	ByClassification map[string]int64 `json:"by_classification"`
	ByApp            map[string]int64 `json:"by_app"`
}
