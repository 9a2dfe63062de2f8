package config

import (
	"time"

	"meetwise/app/booking"

	"github.com/samber/do"
	"github.com/samber/oops"
)

// BookingPolicy translates the calendar and booking sections into the state
// machine policy.
func (c *Config) BookingPolicy() (booking.Policy, error) {
	errBuilder := oops.In("config")

	loc, err := time.LoadLocation(c.Calendar.Timezone)
	if err != nil {
		return booking.Policy{}, errBuilder.Wrapf(err, "invalid calendar.timezone %q", c.Calendar.Timezone)
	}

	open, err := booking.ParseClock(c.Calendar.BusinessHours.Open)
	if err != nil {
		return booking.Policy{}, errBuilder.Wrapf(err, "invalid calendar.business_hours.open")
	}

	closing, err := booking.ParseClock(c.Calendar.BusinessHours.Close)
	if err != nil {
		return booking.Policy{}, errBuilder.Wrapf(err, "invalid calendar.business_hours.close")
	}

	if closing <= open {
		return booking.Policy{}, errBuilder.Errorf("business hours close before they open")
	}

	policy := booking.DefaultPolicy()
	policy.Location = loc
	policy.Hours = booking.BusinessHours{Open: open, Close: closing}
	policy.MaxProposals = c.Booking.MaxProposals
	policy.CallTimeout = c.Booking.CalendarTimeout
	policy.DefaultTitle = c.Booking.DefaultTitle
	if c.Booking.Retries != nil {
		policy.Retries = *c.Booking.Retries
	}

	return policy, nil
}

// NewBookingPolicy provides the policy to the injector.
func NewBookingPolicy(di *do.Injector) (booking.Policy, error) {
	return do.MustInvoke[*Config](di).BookingPolicy()
}
