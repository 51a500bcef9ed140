// Package discovery finds analyzer probes by scanning for STP- advertisers and
// resolves the device a session should connect to.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/stepprobe/internal/device"
	"github.com/srg/stepprobe/internal/ringchan"
)

// DefaultScanDuration is the discovery window used when no device is given.
const DefaultScanDuration = 5 * time.Second

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// EventType marks if the device was newly discovered or updated
type EventType int

const (
	EventNew EventType = iota
	EventUpdated
)

// Event is published for every accepted advertisement.
type Event struct {
	Type      EventType
	Candidate Candidate
}

// Candidate is one discovered advertiser.
type Candidate struct {
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	RSSI        int       `json:"rssi"`
	Connectable bool      `json:"connectable"`
	LastSeen    time.Time `json:"last_seen"`
}

// IsProbe reports whether the candidate advertises as an analyzer probe.
func (c Candidate) IsProbe() bool {
	return device.IsProbeName(c.Name)
}

// Options configures a scan.
type Options struct {
	Duration        time.Duration
	AllowDuplicates bool
	// All includes advertisers without the STP- name prefix.
	All bool
}

// DefaultOptions returns probe-only discovery over DefaultScanDuration.
func DefaultOptions() *Options {
	return &Options{Duration: DefaultScanDuration, AllowDuplicates: true}
}

// AmbiguousError is returned by Resolve when more than one probe was found.
// Picking one is left to the caller.
type AmbiguousError struct {
	Candidates []Candidate
}

func (e *AmbiguousError) Error() string {
	names := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		names = append(names, fmt.Sprintf("%s (%s)", c.Name, c.Address))
	}
	return fmt.Sprintf("found %d probes, specify one with --device: %s", len(e.Candidates), strings.Join(names, ", "))
}

// Discovery collects advertisers from a device.Scanner.
type Discovery struct {
	scanner device.Scanner
	devices *hashmap.Map[string, *Candidate]
	events  *ringchan.RingChannel[Event]
	logger  *logrus.Logger
	opts    *Options
}

// New creates a Discovery over scanner.
func New(scanner device.Scanner, logger *logrus.Logger) *Discovery {
	if logger == nil {
		logger = logrus.New()
	}
	return &Discovery{
		scanner: scanner,
		events:  ringchan.New[Event](100),
		logger:  logger,
	}
}

// Events returns a read-only channel of discovery events. Old events are
// discarded when nobody reads them.
func (d *Discovery) Events() <-chan Event {
	return d.events.C()
}

// Scan runs discovery for opts.Duration or until ctx is done and returns the
// candidates ordered by signal strength.
func (d *Discovery) Scan(ctx context.Context, opts *Options, progress ProgressCallback) ([]Candidate, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if progress == nil {
		progress = func(string) {}
	}
	d.devices = hashmap.New[string, *Candidate]()
	d.opts = opts

	d.logger.WithFields(logrus.Fields{
		"duration": opts.Duration,
		"all":      opts.All,
	}).Info("Starting BLE scan...")
	progress("Scanning")

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	err := d.scanner.Scan(scanCtx, opts.AllowDuplicates, d.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", device.NormalizeError(err))
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	progress("Processing results")
	d.logger.WithField("device_count", d.devices.Len()).Info("BLE scan completed")
	return d.snapshot(), nil
}

func (d *Discovery) handleAdvertisement(adv device.Advertisement) {
	addr := strings.ToUpper(adv.Addr())

	c, existing := d.devices.Get(addr)
	if !existing {
		if !d.opts.All && !device.IsProbeName(adv.LocalName()) {
			return
		}
		c, existing = d.devices.GetOrInsert(addr, &Candidate{Address: addr})
	}

	if name := adv.LocalName(); name != "" {
		c.Name = name
	}
	c.RSSI = adv.RSSI()
	c.Connectable = adv.Connectable()
	c.LastSeen = time.Now()

	event := Event{Type: EventUpdated, Candidate: *c}
	if !existing {
		event.Type = EventNew
		d.logger.WithFields(logrus.Fields{
			"device":  c.Name,
			"address": c.Address,
			"rssi":    c.RSSI,
		}).Info("Discovered new device")
	}
	d.events.Send(event)
}

func (d *Discovery) snapshot() []Candidate {
	out := make([]Candidate, 0, d.devices.Len())
	d.devices.Range(func(_ string, c *Candidate) bool {
		out = append(out, *c)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// Resolve returns the address to connect to. A non-empty input is parsed with
// device.ParseAddress. An empty input runs probe discovery: no probe yields
// device.ErrNoCandidates, one probe is selected, several yield *AmbiguousError.
func Resolve(ctx context.Context, input string, scanner device.Scanner, opts *Options, logger *logrus.Logger) (string, error) {
	if strings.TrimSpace(input) != "" {
		return device.ParseAddress(input)
	}
	if scanner == nil {
		return "", fmt.Errorf("no device given and discovery is unavailable: %w", device.ErrNoCandidates)
	}

	scanOpts := DefaultOptions()
	if opts != nil {
		*scanOpts = *opts
	}
	scanOpts.All = false

	candidates, err := New(scanner, logger).Scan(ctx, scanOpts, nil)
	if err != nil {
		return "", err
	}

	switch len(candidates) {
	case 0:
		return "", device.ErrNoCandidates
	case 1:
		return candidates[0].Address, nil
	default:
		return "", &AmbiguousError{Candidates: candidates}
	}
}
