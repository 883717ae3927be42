package repo

// InsertOutcome is the tagged result of an idempotent insert. Duplicate-key
// conflicts are a benign outcome, not an error; callers branch on the tag
// instead of inspecting driver errors.
type InsertOutcome int

const (
	Created InsertOutcome = iota
	AlreadyExists
)

func (o InsertOutcome) String() string {
	if o == AlreadyExists {
		return "already_exists"
	}
	return "created"
}
