package delivery

import (
	"net/url"
	"time"
)

// CourierYamato is the discriminator for Yamato Transport deliveries.
const CourierYamato = "yamato"

// CourierSagawa is the discriminator for Sagawa Express deliveries.
const CourierSagawa = "sagawa"

// Yamato ships through Yamato Transport (TA-Q-BIN).
type Yamato struct{}

// NewYamato constructs the Yamato courier.
func NewYamato() Yamato { return Yamato{} }

// Name implements the Courier interface.
func (Yamato) Name() string { return CourierYamato }

// TrackingURL implements the Courier interface.
func (Yamato) TrackingURL(trackingNumber string) string {
	if trackingNumber == "" {
		return ""
	}
	return "https://track.kuronekoyamato.co.jp/english/tracking?number=" + url.QueryEscape(trackingNumber)
}

// Estimate implements the Courier interface.
func (Yamato) Estimate() Estimate {
	return Estimate{TransitTime: 24 * time.Hour, CutoffHour: 15}
}

// Sagawa ships through Sagawa Express.
type Sagawa struct{}

// NewSagawa constructs the Sagawa courier.
func NewSagawa() Sagawa { return Sagawa{} }

// Name implements the Courier interface.
func (Sagawa) Name() string { return CourierSagawa }

// TrackingURL implements the Courier interface.
func (Sagawa) TrackingURL(trackingNumber string) string {
	if trackingNumber == "" {
		return ""
	}
	return "https://tracking.sagawa-exp.co.jp/portal/web/okurijosearch?okurijoNo=" + url.QueryEscape(trackingNumber)
}

// Estimate implements the Courier interface.
func (Sagawa) Estimate() Estimate {
	return Estimate{TransitTime: 48 * time.Hour, CutoffHour: 12}
}
