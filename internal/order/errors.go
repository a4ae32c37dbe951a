package order

import (
	"fmt"
	"strings"
)

// ErrCircularOrdering is returned when the before and after declarations for
// an event form a cycle. The cycle lists plugin names in constraint order.
type ErrCircularOrdering struct {
	Event string
	Cycle []string
}

func (e ErrCircularOrdering) Error() string {
	if len(e.Cycle) == 0 {
		return fmt.Sprintf(
			"circular ordering constraint detected for event '%s'\nHint: review plugin order declarations to remove cycles",
			e.Event,
		)
	}

	sequence := append(append([]string{}, e.Cycle...), e.Cycle[0])
	return fmt.Sprintf(
		"circular ordering constraint detected for event '%s': %s\nHint: remove or loosen one of the order declarations",
		e.Event,
		strings.Join(sequence, " -> "),
	)
}
