package gcal

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"meetwise/app/booking"
	"meetwise/app/config"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
	"github.com/samber/oops"
	"golang.org/x/time/rate"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

var _ booking.Calendar = (*Client)(nil)

const (
	conversationProperty = "meetwise_conversation_id"
	keyProperty          = "meetwise_key"
	statusCancelled      = "cancelled"
)

// Client is the Google Calendar backed availability oracle.
type Client struct {
	svc        *calendar.Service
	calendarID string
	loc        *time.Location
	limiter    *rate.Limiter
}

func NewClient(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)
	policy := do.MustInvoke[booking.Policy](di)

	var opts []option.ClientOption
	if cfg.Calendar.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Calendar.CredentialsFile))
	}
	if cfg.Calendar.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Calendar.Endpoint))
	}

	return New(do.MustInvoke[context.Context](di), cfg.Calendar.CalendarID, policy.Location,
		cfg.Calendar.RequestsPerSecond, opts...)
}

func New(
	ctx context.Context,
	calendarID string,
	loc *time.Location,
	requestsPerSecond float64,
	opts ...option.ClientOption,
) (*Client, error) {
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, oops.In("gcal").Wrapf(err, "create calendar service")
	}

	if loc == nil {
		loc = time.UTC
	}

	return &Client{
		svc:        svc,
		calendarID: calendarID,
		loc:        loc,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}, nil
}

// ListBusy returns the busy intervals of the calendar that intersect w.
func (c *Client) ListBusy(ctx context.Context, w booking.Window) ([]booking.Slot, error) {
	errBuilder := oops.In("gcal").With("calendar_id", c.calendarID, "window_start", w.Start, "window_end", w.End)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errBuilder.Wrapf(fmt.Errorf("%w: %w", booking.ErrCalendarUnavailable, err), "rate limit")
	}

	resp, err := c.svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin:  w.Start.Format(time.RFC3339),
		TimeMax:  w.End.Format(time.RFC3339),
		TimeZone: c.loc.String(),
		Items:    []*calendar.FreeBusyRequestItem{{Id: c.calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, errBuilder.Wrapf(classify(err), "freebusy query")
	}

	cal, ok := resp.Calendars[c.calendarID]
	if !ok {
		return nil, errBuilder.Wrapf(booking.ErrCalendarUnavailable, "calendar missing from freebusy response")
	}

	if len(cal.Errors) > 0 {
		reason := cal.Errors[0].Reason
		if reason == "notFound" || reason == "forbidden" {
			return nil, errBuilder.With("reason", reason).Wrapf(booking.ErrCalendarAuth, "freebusy calendar error")
		}
		return nil, errBuilder.With("reason", reason).Wrapf(booking.ErrCalendarUnavailable, "freebusy calendar error")
	}

	busy := make([]booking.Slot, 0, len(cal.Busy))
	for _, period := range cal.Busy {
		start, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			return nil, errBuilder.Wrapf(err, "parse busy start %q", period.Start)
		}

		end, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			return nil, errBuilder.Wrapf(err, "parse busy end %q", period.End)
		}

		busy = append(busy, booking.Slot{Start: start, End: end})
	}

	return busy, nil
}

// Ping checks that the configured calendar is reachable with the current credentials.
func (c *Client) Ping(ctx context.Context) error {
	errBuilder := oops.In("gcal").With("calendar_id", c.calendarID)

	if err := c.limiter.Wait(ctx); err != nil {
		return errBuilder.Wrapf(fmt.Errorf("%w: %w", booking.ErrCalendarUnavailable, err), "rate limit")
	}

	if _, err := c.svc.Calendars.Get(c.calendarID).Context(ctx).Do(); err != nil {
		return errBuilder.Wrapf(classify(err), "get calendar")
	}

	return nil
}

// LookupEvent returns the id of the live event created under key, or "" when
// no such event exists or it was cancelled.
func (c *Client) LookupEvent(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}

	id := eventID(key)
	errBuilder := oops.In("gcal").With("calendar_id", c.calendarID, "event_id", id)

	if err := c.limiter.Wait(ctx); err != nil {
		return "", errBuilder.Wrapf(fmt.Errorf("%w: %w", booking.ErrCalendarUnavailable, err), "rate limit")
	}

	event, err := c.svc.Events.Get(c.calendarID, id).Context(ctx).Do()
	if notFound(err) {
		return "", nil
	}
	if err != nil {
		return "", errBuilder.Wrapf(classify(err), "get event")
	}
	if event.Status == statusCancelled {
		return "", nil
	}

	return event.Id, nil
}

// CreateEvent inserts the event and invites attendees given as e-mail addresses.
// Other attendee names are kept in the description. Requests carrying a key
// get an event id derived from it, so a repeated insert returns the event the
// first one created.
func (c *Client) CreateEvent(ctx context.Context, req booking.EventRequest) (string, error) {
	errBuilder := oops.In("gcal").With("calendar_id", c.calendarID, "conversation_id", req.ConversationID)

	if err := c.limiter.Wait(ctx); err != nil {
		return "", errBuilder.Wrapf(fmt.Errorf("%w: %w", booking.ErrCalendarUnavailable, err), "rate limit")
	}

	emails := pie.Filter(req.Attendees, isEmail)
	names := pie.Filter(req.Attendees, func(a string) bool {
		return !isEmail(a)
	})

	description := "Booked by meetwise."
	if len(names) > 0 {
		description += "\nAttendees: " + strings.Join(names, ", ")
	}

	event := &calendar.Event{
		Summary:     req.Title,
		Description: description,
		Start: &calendar.EventDateTime{
			DateTime: req.Slot.Start.In(c.loc).Format(time.RFC3339),
			TimeZone: c.loc.String(),
		},
		End: &calendar.EventDateTime{
			DateTime: req.Slot.End.In(c.loc).Format(time.RFC3339),
			TimeZone: c.loc.String(),
		},
		Attendees: pie.Map(emails, func(email string) *calendar.EventAttendee {
			return &calendar.EventAttendee{Email: email}
		}),
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{conversationProperty: req.ConversationID},
		},
	}
	if req.Key != "" {
		event.Id = eventID(req.Key)
		event.ExtendedProperties.Private[keyProperty] = req.Key
		errBuilder = errBuilder.With("event_id", event.Id)
	}

	created, err := c.svc.Events.Insert(c.calendarID, event).SendUpdates("all").Context(ctx).Do()

	var apiErr *googleapi.Error
	if event.Id != "" && errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
		id, dupErr := c.duplicate(ctx, event)
		if dupErr != nil {
			return "", errBuilder.Wrapf(classify(err), "insert event")
		}
		return id, nil
	}
	if err != nil {
		return "", errBuilder.Wrapf(classify(err), "insert event")
	}

	return created.Id, nil
}

// duplicate resolves an insert rejected because event.Id is taken. A live event
// is the one a previous attempt created; a cancelled one is restored.
func (c *Client) duplicate(ctx context.Context, event *calendar.Event) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	existing, err := c.svc.Events.Get(c.calendarID, event.Id).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if existing.Status != statusCancelled {
		return existing.Id, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	event.Status = "confirmed"
	restored, err := c.svc.Events.Update(c.calendarID, event.Id, event).SendUpdates("all").Context(ctx).Do()
	if err != nil {
		return "", err
	}

	return restored.Id, nil
}

// DeleteEvent removes the event. An event that is already gone counts as deleted.
func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	errBuilder := oops.In("gcal").With("calendar_id", c.calendarID, "event_id", eventID)

	if err := c.limiter.Wait(ctx); err != nil {
		return errBuilder.Wrapf(fmt.Errorf("%w: %w", booking.ErrCalendarUnavailable, err), "rate limit")
	}

	err := c.svc.Events.Delete(c.calendarID, eventID).SendUpdates("all").Context(ctx).Do()
	if notFound(err) {
		return nil
	}
	if err != nil {
		return errBuilder.Wrapf(classify(err), "delete event")
	}

	return nil
}

// classify maps a calendar failure onto the booking error taxonomy.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusForbidden && rateLimited(apiErr):
			return fmt.Errorf("%w: %w", booking.ErrCalendarUnavailable, err)
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return fmt.Errorf("%w: %w", booking.ErrCalendarAuth, err)
		case apiErr.Code == http.StatusConflict || apiErr.Code == http.StatusPreconditionFailed:
			return fmt.Errorf("%w: %w", booking.ErrSlotConflict, err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %w", booking.ErrCalendarUnavailable, err)
		default:
			return err
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", booking.ErrCalendarUnavailable, err)
	}

	return err
}

func notFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone)
}

// eventID derives a calendar event id from an idempotency key. Event ids are
// limited to the base32hex alphabet in lower case.
func eventID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return strings.ToLower(base32.HexEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:]))
}

func rateLimited(apiErr *googleapi.Error) bool {
	return pie.Any(apiErr.Errors, func(item googleapi.ErrorItem) bool {
		return item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded"
	})
}

func isEmail(s string) bool {
	at := strings.Index(s, "@")
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t")
}
