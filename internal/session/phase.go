package session

// Phase is the reconciler state.
type Phase int

const (
	// Paginating is the state at document open: the renderer is computing
	// its locations and nothing may be persisted yet.
	Paginating Phase = iota
	// Loaded means pagination is known and location events are trusted.
	Loaded
	// Repaginating means pagination is being recomputed after a settings
	// change or a renderer-initiated relayout.
	Repaginating
)

func (p Phase) String() string {
	switch p {
	case Paginating:
		return "paginating"
	case Loaded:
		return "loaded"
	case Repaginating:
		return "repaginating"
	default:
		return "unknown"
	}
}

// Machine holds the phase and the number of section pagination requests
// the renderer has not answered yet. Both change only through the
// transition methods.
type Machine struct {
	phase   Phase
	pending int
}

// NewMachine starts in Paginating.
func NewMachine() *Machine {
	return &Machine{phase: Paginating}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// SectionsRequested reports whether section pagination was requested and
// not yet answered.
func (m *Machine) SectionsRequested() bool { return m.pending > 0 }

// Pending returns the number of unanswered section pagination requests.
func (m *Machine) Pending() int { return m.pending }

// Loaded reports whether location and page writes are allowed.
func (m *Machine) Loaded() bool { return m.phase == Loaded }

// RequestSections records an outstanding pagination request. It reports
// false in Loaded, where a request must go through BeginRepagination.
func (m *Machine) RequestSections() bool {
	if m.phase == Loaded {
		return false
	}
	m.pending++
	return true
}

// AnswerSections records one finished section pagination and reports
// whether it answers the latest request. Earlier answers describe a layout
// the renderer has already replaced. An unsolicited answer, after the
// renderer relayouts by itself, is always the latest.
func (m *Machine) AnswerSections() bool {
	if m.pending > 0 {
		m.pending--
	}
	return m.pending == 0
}

// BeginRepagination leaves Loaded. It reports false from any other phase.
func (m *Machine) BeginRepagination() bool {
	if m.phase != Loaded {
		return false
	}
	m.phase = Repaginating
	m.pending = 0
	return true
}

// FinishLoading enters Loaded from Paginating or Repaginating.
func (m *Machine) FinishLoading() bool {
	if m.phase == Loaded {
		return false
	}
	m.phase = Loaded
	m.pending = 0
	return true
}
