//go:build test

package main

import (
	"bytes"
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/stepprobe/internal/device"
	"github.com/srg/stepprobe/internal/devicefactory"
	"github.com/srg/stepprobe/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// Test probe identities for consistent fake advertisements
const (
	TestProbeName = "STP-0123456789AB"
	TestOtherName = "STP-BA9876543210"
	TestOtherAddr = "BA:98:76:54:32:10"
	TestPhoneAddr = "11:22:33:44:55:66"
	TestPhoneName = "Pixel"
)

type fakeAdv struct {
	name    string
	address string
	rssi    int
}

func (a fakeAdv) LocalName() string { return a.name }
func (a fakeAdv) Addr() string      { return a.address }
func (a fakeAdv) RSSI() int         { return a.rssi }
func (a fakeAdv) Connectable() bool { return true }

// fakeScanner replays advertisements, then waits for the scan window to close.
type fakeScanner struct {
	advs []fakeAdv
}

func (s *fakeScanner) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	for _, a := range s.advs {
		handler(a)
	}
	<-ctx.Done()
	return ctx.Err()
}

type fakeConnector struct {
	link     *testutils.FakeLink
	err      error
	connects []string
}

func (c *fakeConnector) Connect(_ context.Context, address string, _ *device.ConnectOptions) (device.Link, error) {
	c.connects = append(c.connects, address)
	if c.err != nil {
		return nil, c.err
	}
	return c.link, nil
}

// CommandTestSuite runs stepprobe commands against a fake probe link.
// All cmd/stepprobe test suites should embed it.
type CommandTestSuite struct {
	suite.Suite
	Link      *testutils.FakeLink
	Scanner   *fakeScanner
	Connector *fakeConnector

	origScanner   func(string, *logrus.Logger) (device.Scanner, error)
	origConnector func(string, *logrus.Logger) (device.Connector, error)
}

func (s *CommandTestSuite) SetupTest() {
	// Keep a developer's stepprobe.yaml out of the tests
	dir := s.T().TempDir()
	s.T().Setenv("HOME", dir)
	s.T().Setenv("XDG_CONFIG_HOME", dir)

	s.Link = testutils.NewProbeLink()
	s.Scanner = &fakeScanner{advs: []fakeAdv{
		{name: TestProbeName, address: testutils.TestProbeAddress, rssi: -60},
		{name: TestPhoneName, address: TestPhoneAddr, rssi: -40},
	}}
	s.Connector = &fakeConnector{link: s.Link}

	s.origScanner = devicefactory.ScannerFactory
	s.origConnector = devicefactory.ConnectorFactory
	devicefactory.ScannerFactory = func(string, *logrus.Logger) (device.Scanner, error) {
		return s.Scanner, nil
	}
	devicefactory.ConnectorFactory = func(string, *logrus.Logger) (device.Connector, error) {
		return s.Connector, nil
	}
}

func (s *CommandTestSuite) TearDownTest() {
	devicefactory.ScannerFactory = s.origScanner
	devicefactory.ConnectorFactory = s.origConnector
}

// ExecuteCommand runs a fresh stepprobe command tree with args and returns
// stdout and the error. Logs and progress go to a separate buffer.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	return s.ExecuteCommandWithInput("", args...)
}

// ExecuteCommandWithInput is ExecuteCommand with stdin.
func (s *CommandTestSuite) ExecuteCommandWithInput(stdin string, args ...string) (string, error) {
	out := new(bytes.Buffer)
	root := newRootCmd()
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}
