package cache

import "time"

// Status is cache metadata suitable for a health endpoint.
type Status struct {
	EntryCount        int        `json:"entryCount"`
	SnapshotID        string     `json:"snapshotId,omitempty"`
	SnapshotTimestamp *time.Time `json:"snapshotTimestamp,omitempty"`
	LastRefresh       *time.Time `json:"lastRefresh"`
	LastAttempt       *time.Time `json:"lastAttempt,omitempty"`
	LastRefreshFailed bool       `json:"lastRefreshFailed"`
	Stale             bool       `json:"stale"`
	Refreshing        bool       `json:"refreshing"`
	TTLMinutes        float64    `json:"ttlMinutes"`
}

func (m *Manager) Status() Status {
	st := Status{
		Refreshing: m.refreshing.Load(),
		TTLMinutes: m.opts.TTL.Minutes(),
	}
	e := m.current.Load()
	if e == nil {
		return st
	}
	if !e.LastAttempt.IsZero() {
		attempt := e.LastAttempt
		st.LastAttempt = &attempt
	}
	st.LastRefreshFailed = e.LastError != ""
	if e.Placeholder {
		st.Stale = true
		return st
	}
	st.EntryCount = 1
	st.SnapshotID = e.Snapshot.ID
	ts := e.Snapshot.Timestamp
	st.SnapshotTimestamp = &ts
	fetched := e.FetchedAt
	st.LastRefresh = &fetched
	st.Stale = e.Stale || m.clock.Now().Sub(e.FetchedAt) >= m.opts.TTL
	return st
}
