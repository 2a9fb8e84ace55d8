package models

// Category classifies what kind of project knowledge a memory captures.
type Category string

const (
	CategoryStack      Category = "stack"      // languages, frameworks, libraries
	CategoryDecision   Category = "decision"   // architecture decisions with reasons
	CategoryConstraint Category = "constraint" // performance, infra, deadline constraints
	CategoryConvention Category = "convention" // naming, structure, testing conventions
	CategoryNote       Category = "note"       // general notes and observations
)

var ValidCategories = map[Category]bool{
	CategoryStack:      true,
	CategoryDecision:   true,
	CategoryConstraint: true,
	CategoryConvention: true,
	CategoryNote:       true,
}

func (c Category) IsValid() bool {
	return ValidCategories[c]
}

// Source records how a memory was captured.
type Source string

const (
	SourceChat          Source = "chat"
	SourceManual        Source = "manual"
	SourceFileReference Source = "file_reference"
)

var ValidSources = map[Source]bool{
	SourceChat:          true,
	SourceManual:        true,
	SourceFileReference: true,
}

func (s Source) IsValid() bool {
	return ValidSources[s]
}

// State is the lifecycle position of a memory. Staleness is a separate
// flag valid only on confirmed memories; the guards on Memory keep
// illegal combinations out of the store.
type State string

const (
	StateUnconfirmed State = "unconfirmed"
	StateConfirmed   State = "confirmed"
	StateArchived    State = "archived"
)

var ValidStates = map[State]bool{
	StateUnconfirmed: true,
	StateConfirmed:   true,
	StateArchived:    true,
}

// Resolution is the recorded outcome of a sync conflict.
type Resolution string

const (
	ResolutionUnresolved Resolution = "unresolved"
	ResolutionLocalWon   Resolution = "local-won"
	ResolutionRemoteWon  Resolution = "remote-won"
)
