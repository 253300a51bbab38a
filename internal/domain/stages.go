package domain

// Stage is one step in the fixed experimental sequence a participant moves through.
type Stage string

const (
	StageTerms       Stage = "terms"
	StagePreTest     Stage = "pre-test"
	StageLesson      Stage = "lesson"
	StageTetrisBreak Stage = "tetris-break"
	StagePostTest    Stage = "post-test"
	StageFinalTest   Stage = "final-test"
	StageCompleted   Stage = "completed"
)

// stageOrder is the canonical progression. Advancing only ever moves one step
// forward in this order; the only backward edge is an explicit reset to terms.
var stageOrder = []Stage{
	StageTerms,
	StagePreTest,
	StageLesson,
	StageTetrisBreak,
	StagePostTest,
	StageFinalTest,
	StageCompleted,
}

// Next returns the stage following s in canonical order. ok is false when s is
// terminal or unknown.
func (s Stage) Next() (Stage, bool) {
	for i, stage := range stageOrder {
		if stage == s && i < len(stageOrder)-1 {
			return stageOrder[i+1], true
		}
	}
	return s, false
}

// Index returns the position of s in the canonical order, or -1 if unknown.
func (s Stage) Index() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// IsValid reports whether s is one of the canonical stages.
func (s Stage) IsValid() bool {
	return s.Index() >= 0
}

// Reached reports whether s is at or past other in canonical order.
func (s Stage) Reached(other Stage) bool {
	si, oi := s.Index(), other.Index()
	return si >= 0 && oi >= 0 && si >= oi
}

// Condition is the tutoring-agent configuration a participant is assigned to.
type Condition string

const (
	ConditionGroup  Condition = "group"
	ConditionMulti  Condition = "multi"
	ConditionSingle Condition = "single"
	ConditionSolo   Condition = "solo"
)

// Conditions lists the assignable conditions in their stable assignment order.
var Conditions = []Condition{ConditionGroup, ConditionMulti, ConditionSingle, ConditionSolo}

// IsValid reports whether c is an assignable condition.
func (c Condition) IsValid() bool {
	for _, cond := range Conditions {
		if cond == c {
			return true
		}
	}
	return false
}
