package models

import (
	"strings"
	"time"
)

// Shipment statuses produced by platform connectors.
const (
	StatusDelivered     = "Delivered"
	StatusDeliveredLate = "Delivered_Late"
	StatusLost          = "Lost"
)

// Service tiers that carry contractual delivery guarantees.
const (
	ServiceExpress  = "Express"
	ServicePremium  = "Premium"
	ServiceStandard = "Standard"
)

// Order is a normalized shipment record. It is read-only once ingested.
type Order struct {
	OrderID      string    `json:"orderId" validate:"required"`
	OrderDate    time.Time `json:"orderDate"`
	Carrier      string    `json:"carrier" validate:"required"`
	Service      string    `json:"service" validate:"required"`
	ShippingCost float64   `json:"shippingCost" validate:"gte=0"`
	ProductValue float64   `json:"productValue" validate:"gte=0"`
	Status       string    `json:"status" validate:"required"`
	DelayDays    int       `json:"delayDays" validate:"gte=0"`
	HasPOD       bool      `json:"hasPod"`
	PODValid     bool      `json:"podValid"`
	// PODGPSMatch is nil when the carrier did not report coordinates.
	PODGPSMatch *bool `json:"podGpsMatch,omitempty"`

	TrackingNumber       string     `json:"trackingNumber,omitempty"`
	ClientEmail          string     `json:"clientEmail,omitempty" validate:"omitempty,email"`
	ClientName           string     `json:"clientName,omitempty"`
	RecipientName        string     `json:"recipientName,omitempty"`
	PODImageRef          string     `json:"podImageRef,omitempty"`
	ExpectedDeliveryDate *time.Time `json:"expectedDeliveryDate,omitempty"`
	DeliveryDate         *time.Time `json:"deliveryDate,omitempty"`
}

// StatusIs compares the shipment status ignoring case, so "lost" and "Lost" are the same status.
func (o Order) StatusIs(statuses ...string) bool {
	for _, s := range statuses {
		if strings.EqualFold(o.Status, s) {
			return true
		}
	}
	return false
}

// ServiceIs compares the service tier ignoring case.
func (o Order) ServiceIs(services ...string) bool {
	for _, s := range services {
		if strings.EqualFold(o.Service, s) {
			return true
		}
	}
	return false
}

// GPSMismatch reports a known negative GPS check. Unknown is not a mismatch.
func (o Order) GPSMismatch() bool {
	return o.PODGPSMatch != nil && !*o.PODGPSMatch
}
