package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/stepprobe/internal/config"
	"github.com/srg/stepprobe/internal/device"
	"github.com/srg/stepprobe/internal/devicefactory"
	"github.com/srg/stepprobe/internal/probe"
	"github.com/srg/stepprobe/internal/scheduler"
	"github.com/srg/stepprobe/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type fakeConnector struct {
	link    *testutils.FakeLink
	err     error
	address string
	opts    *device.ConnectOptions
}

func (c *fakeConnector) Connect(_ context.Context, address string, opts *device.ConnectOptions) (device.Link, error) {
	c.address = address
	c.opts = opts
	if c.err != nil {
		return nil, c.err
	}
	return c.link, nil
}

type probeAdv struct{}

func (probeAdv) LocalName() string { return "STP-0123456789AB" }
func (probeAdv) Addr() string      { return testutils.TestProbeAddress }
func (probeAdv) RSSI() int         { return -60 }
func (probeAdv) Connectable() bool { return true }

type oneProbeScanner struct{}

func (oneProbeScanner) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	handler(probeAdv{})
	<-ctx.Done()
	return ctx.Err()
}

type readingRecorder struct {
	scheduler.NopObserver
	readings []scheduler.Reading
}

func (r *readingRecorder) OnReading(rd scheduler.Reading) {
	r.readings = append(r.readings, rd)
}

// SessionTestSuite covers resolve, connect, probe open and scheduler wiring
type SessionTestSuite struct {
	suite.Suite
	ctx           context.Context
	cfg           *config.Config
	link          *testutils.FakeLink
	connector     *fakeConnector
	origScanner   func(string, *logrus.Logger) (device.Scanner, error)
	origConnector func(string, *logrus.Logger) (device.Connector, error)
}

func (suite *SessionTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.cfg = config.Default()
	suite.cfg.Device = testutils.TestProbeAddress
	suite.cfg.ScanTimeout = 20 * time.Millisecond
	suite.link = testutils.NewProbeLink()
	suite.connector = &fakeConnector{link: suite.link}

	suite.origScanner = devicefactory.ScannerFactory
	suite.origConnector = devicefactory.ConnectorFactory
	devicefactory.ScannerFactory = func(string, *logrus.Logger) (device.Scanner, error) {
		return oneProbeScanner{}, nil
	}
	devicefactory.ConnectorFactory = func(string, *logrus.Logger) (device.Connector, error) {
		return suite.connector, nil
	}
}

func (suite *SessionTestSuite) TearDownTest() {
	devicefactory.ScannerFactory = suite.origScanner
	devicefactory.ConnectorFactory = suite.origConnector
}

func (suite *SessionTestSuite) TestOpenExplicitDevice() {
	// GOAL: Verify an explicit device connects with the probe profile and reads the info
	//
	// TEST SCENARIO: STP- name → address resolved → connect options carry the service → info decoded → Close disconnects
	suite.cfg.Device = "STP-0123456789AB"
	suite.cfg.Nickname = "x-axis"

	var phases []string
	s, err := Open(suite.ctx, suite.cfg, nil, nil, func(p string) { phases = append(phases, p) })
	suite.Require().NoError(err)

	suite.Equal(testutils.TestProbeAddress, suite.connector.address)
	suite.Equal(probe.ServiceUUID, suite.connector.opts.ServiceUUID)
	suite.Equal(probe.Characteristics(), suite.connector.opts.Characteristics)
	suite.Equal(testutils.TestProbeInfo(), s.Probe.Info)
	suite.Equal("x-axis", s.Name())
	suite.Equal([]string{"Connecting", "Connected"}, phases, "explicit devices MUST skip discovery")

	suite.Require().NoError(s.Close())
	suite.True(suite.link.Closed(), "Close MUST disconnect the link")
}

func (suite *SessionTestSuite) TestOpenDiscovers() {
	suite.cfg.Device = ""

	s, err := Open(suite.ctx, suite.cfg, nil, nil, nil)
	suite.Require().NoError(err)
	defer s.Close()

	suite.Equal(testutils.TestProbeAddress, s.Address)
	suite.Equal(testutils.TestProbeAddress, s.Name())
}

func (suite *SessionTestSuite) TestOpenConnectFailure() {
	suite.connector.err = &device.ConnectionError{State: device.ConnectFailed, Msg: "dial failed"}

	_, err := Open(suite.ctx, suite.cfg, nil, nil, nil)
	suite.ErrorIs(err, device.ErrConnectFailed)
}

func (suite *SessionTestSuite) TestOpenRejectsZeroScale() {
	info := testutils.TestProbeInfo()
	info.CurrentTicksPerAmp = 0
	suite.link.SetValue(probe.InfoCharUUID, info.Encode())

	_, err := Open(suite.ctx, suite.cfg, nil, nil, nil)
	suite.Require().Error(err, "zero current ticks per amp MUST be fatal")
	suite.True(suite.link.Closed(), "a failed open MUST NOT leak the connection")
}

func (suite *SessionTestSuite) TestSchedulerReceivesTelemetry() {
	// GOAL: Verify telemetry notifications flow link → queue → scheduler → observer
	//
	// TEST SCENARIO: Subscribe via NewScheduler → two notifications → one tick → two readings
	s, err := Open(suite.ctx, suite.cfg, nil, nil, nil)
	suite.Require().NoError(err)
	defer s.Close()

	rec := &readingRecorder{}
	sched, err := s.NewScheduler(suite.ctx, rec)
	suite.Require().NoError(err)

	suite.True(suite.link.Notify(probe.TelemetryCharUUID, testutils.TelemetryPayload(0, 0, 0, false, false)))
	suite.True(suite.link.Notify(probe.TelemetryCharUUID, testutils.TelemetryPayload(20, 1, 0, false, false)))
	sched.Tick(suite.ctx)

	suite.Require().Len(rec.readings, 2, "every queued notification MUST be processed on the next tick")
	suite.InDelta(50.0, rec.readings[1].Speed, 1e-9)
}

func (suite *SessionTestSuite) TestInspect() {
	got, err := Inspect(suite.ctx, suite.cfg, nil, nil, func(s *Session) (uint16, error) {
		return s.Probe.Info.CurrentTicksPerAmp, nil
	})
	suite.Require().NoError(err)
	suite.Equal(testutils.TestProbeInfo().CurrentTicksPerAmp, got)
	suite.True(suite.link.Closed())

	boom := errors.New("boom")
	_, err = Inspect(suite.ctx, suite.cfg, nil, nil, func(*Session) (int, error) { return 0, boom })
	suite.ErrorIs(err, boom)
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
