package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrMissingCursor is returned when a page reports more results but carries no
// continuation token to request them with.
var ErrMissingCursor = errors.New("has_more set without next_cursor")

// State is the position of a walk in the pagination state machine.
type State int

const (
	// StateStart means no page has been requested yet.
	StateStart State = iota

	// StateHasCursor means a continuation token is held for the next page.
	StateHasCursor

	// StateDone means the last page has been received.
	StateDone
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateHasCursor:
		return "has_cursor"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Continuation is what a fetched page says about the pages after it.
type Continuation struct {
	HasMore    bool
	NextCursor string
}

// PageFunc fetches the page identified by cursor. The first call receives an
// empty cursor.
type PageFunc func(ctx context.Context, cursor string) (Continuation, error)

// Next computes the state that follows a page with the given continuation.
func Next(c Continuation) (State, string, error) {
	if !c.HasMore {
		return StateDone, "", nil
	}
	if c.NextCursor == "" {
		return StateDone, "", ErrMissingCursor
	}
	return StateHasCursor, c.NextCursor, nil
}

// Walk calls fetch once per page until the endpoint reports no more results.
// It returns the number of pages fetched. Errors from fetch are returned as-is.
func Walk(ctx context.Context, endpoint string, fetch PageFunc) (int, error) {
	start := time.Now()
	state := StateStart
	cursor := ""
	pages := 0

	for state != StateDone {
		if err := ctx.Err(); err != nil {
			return pages, err
		}

		cont, err := fetch(ctx, cursor)
		if err != nil {
			return pages, err
		}
		pages++

		state, cursor, err = Next(cont)
		if err != nil {
			log.Warn().
				Str("endpoint", endpoint).
				Int("page", pages).
				Msg("Page reported more results without a cursor")
			return pages, fmt.Errorf("%s page %d: %w", endpoint, pages, err)
		}

		log.Debug().
			Str("endpoint", endpoint).
			Int("page", pages).
			Stringer("state", state).
			Msg("Page fetched")
	}

	log.Debug().
		Str("endpoint", endpoint).
		Int("pages", pages).
		Dur("duration", time.Since(start)).
		Msg("Pagination complete")

	return pages, nil
}
