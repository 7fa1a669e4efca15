package workflow

// Status is the aggregate status of an import workflow.
type Status string

const (
	StatusInitial    Status = "initial"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
	StatusSuccessful Status = "successful"
)

// workflowTransitions is the explicit transition table for Workflow.
// Keyed by target state; values are the states the transition is legal from.
var workflowTransitions = map[Status][]Status{
	StatusProcessing: {StatusInitial, StatusFailed, StatusSuccessful},
	StatusFailed:     {StatusProcessing, StatusSuccessful},
	StatusSuccessful: {StatusProcessing},
}

// CanTransition reports whether a workflow may move from current to target.
func CanTransition(current, target Status) bool {
	for _, from := range workflowTransitions[target] {
		if from == current {
			return true
		}
	}
	return false
}

// ItemStatus tracks a single import item through its extraction stages.
type ItemStatus string

const (
	ItemInitial    ItemStatus = "initial"
	ItemBook       ItemStatus = "book"
	ItemAuthor     ItemStatus = "author"
	ItemFailed     ItemStatus = "failed"
	ItemSuccessful ItemStatus = "successful"
)

// itemTransitions is the explicit transition table for WorkflowItem.
// mark_book is re-enterable from the terminal states so a failed import
// can restart book extraction with a fresh run.
var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemBook:       {ItemInitial, ItemFailed, ItemSuccessful},
	ItemAuthor:     {ItemBook},
	ItemFailed:     {ItemBook, ItemAuthor},
	ItemSuccessful: {ItemAuthor},
}

// CanTransitionItem reports whether an item may move from current to target.
func CanTransitionItem(current, target ItemStatus) bool {
	for _, from := range itemTransitions[target] {
		if from == current {
			return true
		}
	}
	return false
}

// Terminal reports whether the item has finished, successfully or not.
func (s ItemStatus) Terminal() bool {
	return s == ItemFailed || s == ItemSuccessful
}

// ShouldBeSuccessful reports whether a workflow with the given item statuses
// should be marked successful: at least one item, none still in flight, and
// at least one of them succeeded.
func ShouldBeSuccessful(items []ItemStatus) bool {
	if len(items) == 0 {
		return false
	}
	anySuccessful := false
	for _, s := range items {
		if !s.Terminal() {
			return false
		}
		if s == ItemSuccessful {
			anySuccessful = true
		}
	}
	return anySuccessful
}

// ShouldBeFailed reports whether a workflow with the given item statuses
// should be marked failed: at least one item and every one of them failed.
func ShouldBeFailed(items []ItemStatus) bool {
	if len(items) == 0 {
		return false
	}
	for _, s := range items {
		if s != ItemFailed {
			return false
		}
	}
	return true
}
