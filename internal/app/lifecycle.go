package app

// IngestionStage tracks how far a conversation got through ingestion.
type IngestionStage int

const (
	StageCreated IngestionStage = iota
	StageChunked
	StageIndexed
	StageCompensated
)

func (s IngestionStage) String() string {
	switch s {
	case StageCreated:
		return "created"
	case StageChunked:
		return "chunked"
	case StageIndexed:
		return "indexed"
	case StageCompensated:
		return "compensated"
	default:
		return "unknown"
	}
}

// TurnPhase is the state of one AI turn.
type TurnPhase int

const (
	PhaseRewriting TurnPhase = iota
	PhaseRetrieving
	PhaseGenerating
	PhasePersisted
	PhaseInterrupted
	PhaseFailed
)

func (p TurnPhase) String() string {
	switch p {
	case PhaseRewriting:
		return "rewriting"
	case PhaseRetrieving:
		return "retrieving"
	case PhaseGenerating:
		return "generating"
	case PhasePersisted:
		return "persisted"
	case PhaseInterrupted:
		return "interrupted"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}
