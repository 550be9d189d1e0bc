package relay

// Status is a session's presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// rank orders statuses by activity. Higher is more active.
func (s Status) rank() int {
	switch s {
	case StatusOnline:
		return 3
	case StatusAway:
		return 2
	case StatusBusy:
		return 1
	default:
		return 0
	}
}

// CollapsePresence reduces the statuses of all of a user's sessions to the
// single most active one. An empty input collapses to offline: a user is
// offline only once their last session closes.
func CollapsePresence(statuses []Status) Status {
	out := StatusOffline
	for _, s := range statuses {
		if s.rank() > out.rank() {
			out = s
		}
	}
	return out
}
