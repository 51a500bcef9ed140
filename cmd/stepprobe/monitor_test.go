//go:build test

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/srg/stepprobe/internal/config"
	"github.com/srg/stepprobe/internal/probe"
	"github.com/srg/stepprobe/internal/scheduler"
	"github.com/srg/stepprobe/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

// MonitorTestSuite runs the monitor command against the fake probe
type MonitorTestSuite struct {
	CommandTestSuite
}

func (suite *MonitorTestSuite) SetupTest() {
	suite.CommandTestSuite.SetupTest()
	suite.Link.SetValue(probe.CaptureCharUUID, testutils.RampCapture(5, 8))
}

func (suite *MonitorTestSuite) TestMonitorRunsSchedule() {
	// GOAL: Verify monitor runs full scheduling cycles and reports every slot action
	//
	// TEST SCENARIO: 10ms ticks for 700ms → time, distance and current histograms plus one capture printed
	out, err := suite.ExecuteCommand("monitor", "--device", TestProbeName, "--nickname", "x-axis",
		"--tick-interval", "10ms", "--duration", "700ms")
	suite.Require().NoError(err, "the --duration deadline MUST be a normal exit")

	suite.Contains(out, "Monitoring x-axis (capture divider 5)")
	suite.Contains(out, "time histogram: peak 5.00% at 50.0 steps/s")
	suite.Contains(out, "distance histogram: peak 5.00% at 50.0 steps/s")
	suite.Contains(out, "current histogram: peak 0.50A at 50.0 steps/s")
	suite.Contains(out, "capture: 8 samples at 2000.0 Hz (divider 5), peak A 0.007 A, peak B 0.007 A")
	suite.True(suite.Link.Closed(), "monitor MUST disconnect on exit")
}

func (suite *MonitorTestSuite) TestMonitorKeys() {
	// GOAL: Verify stdin keys become probe commands on the scheduler's command slot
	//
	// TEST SCENARIO: "s" then "r" typed → divider 10 and reset written to the command characteristic
	out, err := suite.ExecuteCommandWithInput("s\nr\n", "monitor", "--device", TestProbeName,
		"--tick-interval", "10ms", "--duration", "300ms")
	suite.Require().NoError(err)

	suite.Contains(out, "Capture divider 10")
	suite.Contains(out, "Reset requested")

	var commands [][]byte
	for _, w := range suite.Link.Writes() {
		if w.Char == probe.CommandCharUUID {
			commands = append(commands, w.Data)
		}
	}
	suite.Contains(commands, []byte{0x03, 10}, "the cycled divider MUST be written")
	suite.Contains(commands, []byte{0x01}, "the reset MUST be written")
}

func (suite *MonitorTestSuite) TestMonitorReadings() {
	// GOAL: Verify telemetry notifications are printed as readings
	//
	// TEST SCENARIO: Notifications pushed while monitor runs → a reading line with the nickname and distance
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		var ticks uint32
		for ctx.Err() == nil {
			ticks += 20
			suite.Link.Notify(probe.TelemetryCharUUID, testutils.TelemetryPayload(ticks, 100, 500, true, false))
			time.Sleep(5 * time.Millisecond)
		}
	}()

	out, err := suite.ExecuteCommand("monitor", "--device", TestProbeName, "--nickname", "x-axis",
		"--units", "mm", "--steps-per-unit", "10", "--tick-interval", "10ms", "--duration", "300ms")
	suite.Require().NoError(err)

	suite.Contains(out, "x-axis  t=")
	suite.Contains(out, "dist=     10.00 mm")
	suite.Contains(out, "ON")
}

func (suite *MonitorTestSuite) TestMonitorQuiet() {
	out, err := suite.ExecuteCommand("monitor", "--device", TestProbeName, "--quiet",
		"--tick-interval", "10ms", "--duration", "100ms")
	suite.Require().NoError(err)
	suite.NotContains(out, "t=")
}

func TestMonitorTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}

func testConsole(out *bytes.Buffer) *console {
	cfg := config.Default()
	cfg.Units = "mm"
	cfg.MaxAmps = 2
	return newConsole(out, "x-axis", cfg)
}

func TestReadIntents(t *testing.T) {
	out := new(bytes.Buffer)
	intents := scheduler.NewIntents(5)

	readIntents(context.Background(), strings.NewReader("d\nP\n\nq\np\n"), intents, testConsole(out))

	assert.False(t, intents.Paused(), "two pauses MUST cancel out")
	assert.Equal(t, "Direction toggle requested\nPaused\nUnknown key \"q\" (r, d, s, p)\nContinuing\n", out.String())
}

func TestFormatReading(t *testing.T) {
	c := testConsole(new(bytes.Buffer))

	line := c.formatReading(scheduler.Reading{
		TimestampSecs: 1.5,
		Distance:      12.25,
		Speed:         40,
		HasSpeed:      true,
		AmpsFiltered:  1,
		Energized:     true,
		Reversed:      true,
	})
	assert.Equal(t, "x-axis  t=    1.500s  dist=     12.25 mm  speed=    40.0 mm/s  I= 1.00A [##########..........] ON REV", line)

	line = c.formatReading(scheduler.Reading{DataLoss: true})
	assert.Contains(t, line, "speed=     - mm/s", "readings without speed MUST show a dash")
	assert.True(t, strings.HasSuffix(line, "LOSS"))
}

func TestCurrentBar(t *testing.T) {
	assert.Equal(t, "..........", currentBar(0, 2, 10))
	assert.Equal(t, "#####.....", currentBar(1, 2, 10))
	assert.Equal(t, "##########", currentBar(5, 2, 10), "overload MUST clamp to full")
	assert.Equal(t, "..........", currentBar(-1, 2, 10))
	assert.Equal(t, "..........", currentBar(1, 0, 10), "zero full scale MUST render empty")
}
