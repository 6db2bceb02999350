package facade

import (
	"context"

	"github.com/fuzzysecurity/kahlo-host/pkg/errs"
	"github.com/fuzzysecurity/kahlo-host/pkg/events"
)

// EventFilters mirrors events.Filters for the wire boundary.
type EventFilters struct {
	Kind  string `json:"kind,omitempty"`
	Level string `json:"level,omitempty"`
}

// EventsFetchInput is the events.fetch tool request. Exactly one of
// TargetID or JobID should be set, per spec §6's "{target_id|job_id}".
type EventsFetchInput struct {
	TargetID string        `json:"target_id,omitempty" query:"target_id"`
	JobID    string        `json:"job_id,omitempty" query:"job_id"`
	Cursor   string        `json:"cursor,omitempty" query:"cursor"`
	Limit    int           `json:"limit,omitempty" query:"limit"`
	Filters  *EventFilters `json:"filters,omitempty"`
}

// EventsFetchOutput is the events.fetch tool result.
type EventsFetchOutput struct {
	Events     []events.Event `json:"events"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func (f *Facade) requireEvents() error {
	if f.Events == nil {
		return errs.TargetManagerError(errs.CodeNotImplemented, "event manager is not configured")
	}
	return nil
}

// EventsFetch implements events.fetch.
func (f *Facade) EventsFetch(ctx context.Context, in EventsFetchInput) (EventsFetchOutput, error) {
	if err := f.requireEvents(); err != nil {
		return EventsFetchOutput{}, err
	}
	if in.TargetID == "" && in.JobID == "" {
		return EventsFetchOutput{}, errs.TargetManagerError(errs.CodeInvalidArgument, "exactly one of target_id or job_id must be set")
	}

	var filters events.Filters
	if in.Filters != nil {
		filters = events.Filters{Kind: in.Filters.Kind, Level: events.Level(in.Filters.Level)}
	}

	evs, next, err := f.Events.FetchEvents(in.TargetID, in.JobID, in.Cursor, in.Limit, filters)
	if err != nil {
		return EventsFetchOutput{}, err
	}
	return EventsFetchOutput{Events: evs, NextCursor: next}, nil
}
