package googlesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/jw6ventures/calassist/internal/logging"
	"github.com/jw6ventures/calassist/internal/metrics"
	"github.com/jw6ventures/calassist/internal/store"
	"github.com/jw6ventures/calassist/internal/tracing"
)

// ExternalIDPrefix marks events imported from Google Calendar.
const ExternalIDPrefix = "google:"

// Sync outcome labels.
const (
	outcomeImported = "imported"
	outcomeSkipped  = "skipped"
	outcomeFailed   = "failed"
)

// EventSource lists calendar events in a time range.
type EventSource interface {
	List(ctx context.Context, from, to time.Time) ([]*calendar.Event, error)
}

// SourceFactory opens an EventSource authorised by ts.
type SourceFactory func(ctx context.Context, ts oauth2.TokenSource) (EventSource, error)

// Upserter writes imported events keyed by external id.
type Upserter interface {
	UpsertExternal(ctx context.Context, ownerID int64, externalID string, fields store.EventFields) (*store.Event, error)
}

// Importer copies events from an owner's primary Google calendar.
type Importer struct {
	conn      *Connector
	events    Upserter
	state     *StateStore
	newSource SourceFactory
	loc       *time.Location
	now       func() time.Time
	logger    *slog.Logger
}

// ImporterOptions wires an Importer. NewSource defaults to the Calendar API.
type ImporterOptions struct {
	Connector *Connector
	Events    Upserter
	State     *StateStore
	NewSource SourceFactory
	Location  *time.Location
	Now       func() time.Time
	Logger    *slog.Logger
}

func NewImporter(opts ImporterOptions) *Importer {
	if opts.NewSource == nil {
		opts.NewSource = PrimaryCalendar
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Importer{
		conn:      opts.Connector,
		events:    opts.Events,
		state:     opts.State,
		newSource: opts.NewSource,
		loc:       opts.Location,
		now:       opts.Now,
		logger:    opts.Logger,
	}
}

// AuthURL returns the Google consent URL for state.
func (im *Importer) AuthURL(state string) string { return im.conn.AuthURL(state) }

// Exchange stores the token obtained from the consent callback code.
func (im *Importer) Exchange(ctx context.Context, owner int64, code string) error {
	return im.conn.Exchange(ctx, owner, code)
}

// Connected reports whether owner has linked a Google account.
func (im *Importer) Connected(ctx context.Context, owner int64) (bool, error) {
	return im.conn.Connected(ctx, owner)
}

// Disconnect forgets owner's token and sync history. Imported events stay.
func (im *Importer) Disconnect(ctx context.Context, owner int64) error {
	if err := im.conn.Disconnect(ctx, owner); err != nil {
		return err
	}
	return im.state.Delete(owner)
}

// State returns the last recorded import for owner.
func (im *Importer) State(owner int64) (SyncState, bool, error) {
	return im.state.Get(owner)
}

// Import upserts every event starting in [from, to). Re-importing overwrites
// earlier copies. Cancelled and unusable events are skipped.
func (im *Importer) Import(ctx context.Context, owner int64, from, to time.Time) (result SyncState, err error) {
	if !to.After(from) {
		return SyncState{}, fmt.Errorf("import range end must be after start")
	}
	ts, err := im.conn.TokenSource(ctx, owner)
	if err != nil {
		return SyncState{}, err
	}
	result = SyncState{RangeStart: from, RangeEnd: to}
	defer func() {
		result.LastImport = im.now()
		if err != nil {
			result.LastError = err.Error()
		}
		if perr := im.state.Put(owner, result); perr != nil {
			im.logger.Warn("record google sync state", logging.Owner(owner), logging.Err(perr))
		}
		if perr := ts.Persist(ctx); perr != nil {
			im.logger.Warn("store refreshed google token", logging.Owner(owner), logging.Err(perr))
		}
		metrics.AddGoogleSyncEvents(outcomeImported, result.Imported)
		metrics.AddGoogleSyncEvents(outcomeSkipped, result.Skipped)
	}()

	src, err := im.newSource(ctx, ts)
	if err != nil {
		return result, fmt.Errorf("open google calendar: %w", err)
	}
	items, err := src.List(ctx, from, to)
	if err != nil {
		return result, fmt.Errorf("list google events: %w", err)
	}

	for _, item := range items {
		fields, ok := Convert(item, im.loc)
		if !ok {
			result.Skipped++
			continue
		}
		if _, err := im.events.UpsertExternal(ctx, owner, ExternalIDPrefix+item.Id, fields); err != nil {
			metrics.AddGoogleSyncEvents(outcomeFailed, 1)
			return result, fmt.Errorf("store google event %s: %w", item.Id, err)
		}
		result.Imported++
	}
	im.logger.Info("google calendar import finished", logging.Owner(owner),
		slog.Int("imported", result.Imported), slog.Int("skipped", result.Skipped))
	return result, nil
}

// Convert maps a Google event to event fields. All-day events use the
// exclusive end date Google reports, anchored in loc.
func Convert(item *calendar.Event, loc *time.Location) (store.EventFields, bool) {
	if item == nil || item.Id == "" || item.Status == "cancelled" || item.Start == nil || item.End == nil {
		return store.EventFields{}, false
	}
	fields := store.EventFields{
		Title:       strings.TrimSpace(item.Summary),
		Description: strings.TrimSpace(item.Description),
		Location:    strings.TrimSpace(item.Location),
	}
	if fields.Title == "" {
		fields.Title = "(untitled)"
	}

	var err error
	switch {
	case item.Start.DateTime != "":
		if fields.Start, err = time.Parse(time.RFC3339, item.Start.DateTime); err != nil {
			return store.EventFields{}, false
		}
		if fields.End, err = time.Parse(time.RFC3339, item.End.DateTime); err != nil {
			return store.EventFields{}, false
		}
	case item.Start.Date != "":
		fields.AllDay = true
		if fields.Start, err = time.ParseInLocation(time.DateOnly, item.Start.Date, loc); err != nil {
			return store.EventFields{}, false
		}
		if fields.End, err = time.ParseInLocation(time.DateOnly, item.End.Date, loc); err != nil {
			return store.EventFields{}, false
		}
	default:
		return store.EventFields{}, false
	}
	if fields.Validate() != nil {
		return store.EventFields{}, false
	}
	return fields, true
}

// PrimaryCalendar is the Calendar API source for the user's primary calendar.
func PrimaryCalendar(ctx context.Context, ts oauth2.TokenSource) (EventSource, error) {
	svc, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, err
	}
	return &calendarSource{svc: svc, calendarID: "primary"}, nil
}

type calendarSource struct {
	svc        *calendar.Service
	calendarID string
}

func (s *calendarSource) List(ctx context.Context, from, to time.Time) (items []*calendar.Event, err error) {
	ctx, span := tracing.StartGoogleSpan(ctx, "events.list")
	defer func() { tracing.End(span, err) }()

	call := s.svc.Events.List(s.calendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		OrderBy("startTime").
		MaxResults(250).
		Context(ctx)
	err = call.Pages(ctx, func(page *calendar.Events) error {
		items = append(items, page.Items...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// IsNotConnected reports whether err means the owner has no Google token.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
