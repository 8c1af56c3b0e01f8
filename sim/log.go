package sim

import "fmt"

// LogLimit is the number of activity log entries kept, newest first.
const LogLimit = 20

// LogKind classifies an activity log entry.
type LogKind string

const (
	LogPrompt         LogKind = "prompt"
	LogResponse       LogKind = "response"
	LogPlacementError LogKind = "placement-error"
	LogRequestFailed  LogKind = "request-failed"
)

// System entries are attributed to this pseudo-user.
const (
	SystemUserName   = "SYSTEM"
	SystemUserAvatar = "⚠️"
	SystemUserColor  = "#ef4444"
)

// LogEntry is one immutable activity record.
type LogEntry struct {
	ID         string  `json:"id"`
	Tick       int64   `json:"timestamp"`
	UserID     string  `json:"userId"`
	UserName   string  `json:"userName"`
	UserAvatar string  `json:"userAvatar"`
	UserColor  string  `json:"userColor"`
	Kind       LogKind `json:"type"`
	Text       string  `json:"text"`
	LatencyMs  float64 `json:"latency,omitempty"`
	TTFTMs     float64 `json:"ttft,omitempty"`
}

// IsError reports whether the entry records a fault.
func (e LogEntry) IsError() bool {
	return e.Kind == LogPlacementError || e.Kind == LogRequestFailed
}

func promptEntry(tick int64, u VirtualUser, text string) LogEntry {
	return LogEntry{
		ID:         fmt.Sprintf("log-%d-%s", tick, u.ID),
		Tick:       tick,
		UserID:     u.ID,
		UserName:   u.Name,
		UserAvatar: u.Avatar,
		UserColor:  u.Color,
		Kind:       LogPrompt,
		Text:       text,
	}
}

func responseEntry(tick int64, u VirtualUser, c completion) LogEntry {
	return LogEntry{
		ID:         fmt.Sprintf("log-resp-%d-%s", tick, u.ID),
		Tick:       tick,
		UserID:     u.ID,
		UserName:   u.Name,
		UserAvatar: u.Avatar,
		UserColor:  u.Color,
		Kind:       LogResponse,
		Text:       "Response received",
		LatencyMs:  c.LatencyMs,
		TTFTMs:     c.Request.TTFTMs,
	}
}

func systemEntry(tick int64, userID string, kind LogKind, text string) LogEntry {
	return LogEntry{
		ID:         fmt.Sprintf("log-err-%d-%s", tick, userID),
		Tick:       tick,
		UserID:     userID,
		UserName:   SystemUserName,
		UserAvatar: SystemUserAvatar,
		UserColor:  SystemUserColor,
		Kind:       kind,
		Text:       text,
	}
}

// activityLog accumulates one tick's entries in chronological order.
type activityLog []LogEntry

func (l *activityLog) add(e LogEntry) {
	*l = append(*l, e)
}

// mergeLog prepends the tick's entries (newest first) to prev and caps the
// result at LogLimit.
func mergeLog(prev []LogEntry, fresh activityLog) []LogEntry {
	out := make([]LogEntry, 0, min(len(prev)+len(fresh), LogLimit))
	for i := len(fresh) - 1; i >= 0 && len(out) < LogLimit; i-- {
		out = append(out, fresh[i])
	}
	for _, e := range prev {
		if len(out) == LogLimit {
			break
		}
		out = append(out, e)
	}
	return out
}
