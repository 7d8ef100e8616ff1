package detect

import "fmt"

// InvalidTransactionError rejects a whole run on the first malformed input
// record. Partial analysis of contaminated input would hand a reviewer
// misleading results, so the engine never skips bad records silently.
type InvalidTransactionError struct {
	Index  int    // position in the input sequence
	ID     string // transaction id, may be empty when the id itself is missing
	Field  string // offending field name
	Reason string
}

func (e *InvalidTransactionError) Error() string {
	return fmt.Sprintf("invalid transaction at index %d (id %q): field %s: %s",
		e.Index, e.ID, e.Field, e.Reason)
}

// DuplicateTransactionIDError rejects a run containing two records that
// share an id.
type DuplicateTransactionIDError struct {
	ID          string
	FirstIndex  int
	SecondIndex int
}

func (e *DuplicateTransactionIDError) Error() string {
	return fmt.Sprintf("duplicate transaction id %q at indexes %d and %d",
		e.ID, e.FirstIndex, e.SecondIndex)
}
