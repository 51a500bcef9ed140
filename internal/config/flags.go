package config

import (
	"github.com/spf13/pflag"
)

// RegisterConnectionFlags adds the flags every probe-facing command accepts.
func RegisterConnectionFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.String("device", def.Device, "Probe address or STP- name (empty: discover)")
	fs.Duration("scan-timeout", def.ScanTimeout, "Discovery window when no device is given")
	fs.Duration("connect-timeout", def.ConnectTimeout, "Connection timeout")
	fs.Duration("op-timeout", def.OpTimeout, "Timeout for each BLE read or write")
}

// RegisterMonitorFlags adds the display and scheduling flags used by monitor.
func RegisterMonitorFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.StringP("nickname", "n", def.Nickname, "Optional nickname shown with the device")
	fs.Float64P("max-amps", "m", def.MaxAmps, "Full scale of the current display in amps")
	fs.String("units", def.Units, "Distance unit label")
	fs.Float64("steps-per-unit", def.StepsPerUnit, "Steps per distance unit")
	fs.Int("capture-divider", def.CaptureDivider, "Initial capture divider (1, 2, 5, 10, 20)")
	fs.Duration("tick-interval", def.TickInterval, "Scheduler tick period")
	fs.Int("cycle-ticks", def.CycleTicks, "Ticks per scheduling cycle")
	fs.Duration("data-loss-threshold", def.DataLossThreshold, "Notification gap reported as data loss")
	fs.Int("drop-after-reset", def.DropAfterReset, "Samples hidden after a data reset")
	fs.Float64("filter-alpha", def.FilterAlpha, "Current smoothing factor in (0, 1]")
	fs.Uint32("notification-buffer", def.NotificationBuffer, "Notifications buffered between ticks")
	fs.Int("worker-queue", def.WorkerQueue, "Pending BLE operations before new ones are rejected")
	fs.Uint32("breaker-max-failures", def.BreakerMaxFailures, "Consecutive link failures that open the circuit breaker")
	fs.Duration("breaker-timeout", def.BreakerTimeout, "How long the open circuit breaker rejects operations")
	fs.String("metrics-addr", def.MetricsAddr, "Serve Prometheus metrics on this address (e.g. :9100)")
}
