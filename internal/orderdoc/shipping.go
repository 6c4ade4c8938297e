package orderdoc

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format for delivery dates.
const DateLayout = "2006-01-02"

// ErrDeliveryTooSoon is returned when the requested delivery date is before
// the earliest allowed date.
var ErrDeliveryTooSoon = errors.New("orderdoc: requested delivery date is too soon")

// Address is a postal address.
type Address struct {
	Name        string `json:"name" validate:"required,max=256"`
	Street      string `json:"street" validate:"required,max=512"`
	Street2     string `json:"street2,omitempty" validate:"max=512"`
	City        string `json:"city" validate:"required,max=128"`
	State       string `json:"state,omitempty" validate:"max=128"`
	PostalCode  string `json:"postalCode" validate:"required,max=32"`
	CountryCode string `json:"countryCode" validate:"required,len=2,alpha"`
}

// Contact is the delivery contact.
type Contact struct {
	Name  string `json:"name" validate:"required,max=256"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone,omitempty" validate:"max=64"`
}

// ShippingForm is captured once when the buyer prepares the cart.
type ShippingForm struct {
	Address               Address `json:"address" validate:"required"`
	Contact               Contact `json:"contact" validate:"required"`
	RequestedDeliveryDate string  `json:"requestedDeliveryDate" validate:"required,datetime=2006-01-02"`
	Instructions          string  `json:"instructions,omitempty" validate:"max=2000"`
}

// DeliveryDate parses RequestedDeliveryDate as a calendar date.
func (f ShippingForm) DeliveryDate() (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(f.RequestedDeliveryDate))
	if err != nil {
		return time.Time{}, fmt.Errorf("requested delivery date %q: %w", f.RequestedDeliveryDate, err)
	}
	return d, nil
}

// MinimumDeliveryDate is the calendar date leadDays after now in loc.
func MinimumDeliveryDate(now time.Time, loc *time.Location, leadDays int) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+leadDays, 0, 0, 0, 0, time.UTC)
}

// CheckDeliveryDate rejects dates earlier than MinimumDeliveryDate.
func CheckDeliveryDate(f ShippingForm, now time.Time, loc *time.Location, leadDays int) error {
	requested, err := f.DeliveryDate()
	if err != nil {
		return err
	}
	earliest := MinimumDeliveryDate(now, loc, leadDays)
	if requested.Before(earliest) {
		return fmt.Errorf("%s is before %s: %w", requested.Format(DateLayout), earliest.Format(DateLayout), ErrDeliveryTooSoon)
	}
	return nil
}
