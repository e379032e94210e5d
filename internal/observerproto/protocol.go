package observerproto

// Version is the observer protocol version.
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Windows limits STATS to the named windows; empty means all.
	Windows []string `json:"windows,omitempty"`

	// IncludeSlots adds per-slot states, capped at MaxSlots per window.
	IncludeSlots bool `json:"include_slots,omitempty"`
	MaxSlots     int  `json:"max_slots,omitempty"`
}

// HTTP response for GET /debug/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string       `json:"protocol_version"`
	RunID           string       `json:"run_id"`
	Seed            int64        `json:"seed"`
	StatsEveryMs    int          `json:"stats_every_ms"`
	Windows         []WindowInfo `json:"windows"`
	States          []string     `json:"states"`
}

type WindowInfo struct {
	Name         string     `json:"name"`
	Kind         string     `json:"kind,omitempty"`
	Parent       string     `json:"parent,omitempty"`
	CellSize     [3]float64 `json:"cell_size"`
	Radius       int        `json:"radius"`
	Layers       int        `json:"layers"`
	MaxCount     int        `json:"max_count"`
	PriorityBias int        `json:"priority_bias"`
}

// Server -> Client. Sent every stats interval.
type StatsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	UnixMs          int64  `json:"unix_ms"`

	Focus   [2]float64    `json:"focus"`
	Focused bool          `json:"focused"`
	Live    int           `json:"live_slots"`
	Windows []WindowStats `json:"windows"`
	Builder BuilderStats  `json:"builder"`
}

type WindowStats struct {
	Name        string      `json:"name"`
	Center      [2]int      `json:"center"`
	Applied     int         `json:"applied"`
	MaxCount    int         `json:"max_count"`
	MissingDeps uint64      `json:"missing_deps"`
	Slots       []SlotState `json:"slots,omitempty"`
}

type SlotState struct {
	Slot  uint64 `json:"slot"`
	Cell  [3]int `json:"cell"`
	State string `json:"state"`
}

type BuilderStats struct {
	Workers         int    `json:"workers"`
	Paused          bool   `json:"paused"`
	QueueDepth      int    `json:"queue_depth"`
	Building        int    `json:"building"`
	AwaitingApply   int    `json:"awaiting_apply"`
	PendingReleases int    `json:"pending_releases"`
	Managed         int    `json:"managed"`
	BuiltTotal      uint64 `json:"built_total"`
	FailedTotal     uint64 `json:"failed_total"`
	AppliedTotal    uint64 `json:"applied_total"`
	ReleasedTotal   uint64 `json:"released_total"`
}
