package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/stepprobe/internal/device"
)

// Advertisement wraps ble.Advertisement to implement device.Advertisement
type Advertisement struct {
	adv ble.Advertisement
}

// NewAdvertisement creates a new Advertisement wrapper
func NewAdvertisement(adv ble.Advertisement) device.Advertisement {
	return &Advertisement{adv: adv}
}

func (a *Advertisement) LocalName() string { return a.adv.LocalName() }
func (a *Advertisement) Connectable() bool { return a.adv.Connectable() }
func (a *Advertisement) RSSI() int         { return a.adv.RSSI() }
func (a *Advertisement) Addr() string      { return a.adv.Addr().String() }

// Unwrap returns the underlying ble.Advertisement
func (a *Advertisement) Unwrap() ble.Advertisement {
	return a.adv
}
