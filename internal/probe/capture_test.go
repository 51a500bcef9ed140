package probe_test

import (
	"context"
	"errors"
	"testing"

	"github.com/srg/stepprobe/internal/probe"
	"github.com/srg/stepprobe/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// CaptureFetcherTestSuite drives the capture handshake against a scripted link.
type CaptureFetcherTestSuite struct {
	suite.Suite
	helper  *testutils.TestHelper
	link    *testutils.FakeLink
	fetcher *probe.CaptureFetcher
	ctx     context.Context
}

func (s *CaptureFetcherTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.link = testutils.NewFakeLink(testutils.TestProbeAddress)
	commands := probe.NewCommandChannel(s.link, probe.DefaultOpcodes(), s.helper.Logger)
	s.fetcher = probe.NewCaptureFetcher(s.link, commands, testutils.TestProbeInfo(), s.helper.Logger)
	s.ctx = context.Background()
}

// queueSplitCapture queues a capture of n pairs split across two reads at byte cut.
func (s *CaptureFetcherTestSuite) queueSplitCapture(divider, n, cut int) {
	full := testutils.RampCapture(divider, n)
	s.link.QueueRead(probe.CaptureCharUUID, full[:cut])
	s.link.QueueRead(probe.CaptureCharUUID, full[cut:])
}

func (s *CaptureFetcherTestSuite) advance() *probe.CaptureSignal {
	sig, err := s.fetcher.Advance(s.ctx)
	s.Require().NoError(err, "advance MUST succeed")
	return sig
}

func (s *CaptureFetcherTestSuite) TestFullHandshake() {
	// GOAL: Verify one complete handshake takes one transition per call and yields exactly one signal
	//
	// TEST SCENARIO: Idle -> CommandSent -> AwaitRead2 -> Complete (signal) -> Idle

	s.queueSplitCapture(5, 100, 200)

	s.Require().Equal(probe.PhaseIdle, s.fetcher.Phase())

	s.Nil(s.advance(), "command step MUST NOT yield a signal")
	s.Equal(probe.PhaseCommandSent, s.fetcher.Phase())
	s.Equal([]byte{0x02}, s.link.Writes()[0].Data, "first step MUST write START_CAPTURE")

	s.Nil(s.advance(), "first read MUST NOT yield a signal")
	s.Equal(probe.PhaseAwaitRead2, s.fetcher.Phase())

	sig := s.advance()
	s.Require().NotNil(sig, "second read MUST yield the signal")
	s.Equal(probe.PhaseComplete, s.fetcher.Phase())

	s.Equal(100, sig.Len())
	s.Len(sig.AmpsA, 100)
	s.Len(sig.AmpsB, 100)
	s.Equal(5, sig.Divider)
	s.InDelta(2000.0, sig.SampleRate, 1e-9, "sample rate MUST be base rate / divider")
	s.InDelta(0.099, sig.AmpsA[99], 1e-9, "A MUST be ticks / current_ticks_per_amp")
	s.InDelta(-0.099, sig.AmpsB[99], 1e-9)
	for i, ts := range sig.TimesSec {
		s.InDelta(float64(i)/2000.0, ts, 1e-12, "times_sec[i] MUST be i / sample_rate")
	}

	s.Nil(s.advance(), "completed fetcher MUST NOT yield the signal again")
	s.Equal(probe.PhaseIdle, s.fetcher.Phase())

	s.Equal([]string{"write:ff06", "read:ff07", "read:ff07"}, s.link.Ops(), "handshake MUST be one command then two reads")
}

func (s *CaptureFetcherTestSuite) TestExactlyOneSignalPerCycle() {
	for cycle := 0; cycle < 3; cycle++ {
		s.queueSplitCapture(1, 10, 6)
	}

	signals := 0
	for i := 0; i < 12; i++ {
		sig := s.advance()
		if sig != nil {
			signals++
			s.Equal(probe.PhaseComplete, s.fetcher.Phase(), "signal MUST only appear on the completing call")
		}
	}
	s.Equal(3, signals, "three cycles MUST yield exactly three signals")
}

func (s *CaptureFetcherTestSuite) TestSingleReadCapture() {
	s.link.QueueRead(probe.CaptureCharUUID, testutils.RampCapture(2, 8))

	s.Nil(s.advance())
	sig := s.advance()
	s.Require().NotNil(sig, "a first read holding the whole capture MUST complete immediately")
	s.Equal(probe.PhaseComplete, s.fetcher.Phase())
	s.Equal(8, sig.Len())
}

func (s *CaptureFetcherTestSuite) TestResetFromEveryPhase() {
	// GOAL: Verify Reset returns to Idle from any phase and discards in-progress data
	//
	// TEST SCENARIO: Reach each phase, Reset, then run a fresh cycle -> signal decodes only the fresh capture

	cases := []struct {
		phase probe.CapturePhase
		prime func(link *testutils.FakeLink)
	}{
		{phase: probe.PhaseIdle, prime: func(*testutils.FakeLink) {}},
		{phase: probe.PhaseCommandSent, prime: func(*testutils.FakeLink) {}},
		{phase: probe.PhaseAwaitRead2, prime: func(link *testutils.FakeLink) {
			link.QueueRead(probe.CaptureCharUUID, testutils.RampCapture(1, 4)[:10])
		}},
		{phase: probe.PhaseComplete, prime: func(link *testutils.FakeLink) {
			link.QueueRead(probe.CaptureCharUUID, testutils.RampCapture(1, 4))
		}},
	}

	for _, tc := range cases {
		s.Run(tc.phase.String(), func() {
			s.SetupTest()
			tc.prime(s.link)
			for s.fetcher.Phase() != tc.phase {
				s.advance()
			}

			s.fetcher.Reset()
			s.Equal(probe.PhaseIdle, s.fetcher.Phase(), "Reset MUST return to Idle")

			s.link.QueueRead(probe.CaptureCharUUID, testutils.RampCapture(10, 3))
			s.Nil(s.advance())
			sig := s.advance()
			s.Require().NotNil(sig)
			s.Equal(10, sig.Divider, "decoded signal MUST come from the fresh capture only")
			s.Equal(3, sig.Len())
		})
	}
}

func (s *CaptureFetcherTestSuite) TestReadErrorResetsToIdle() {
	boom := errors.New("link dropped")
	full := testutils.RampCapture(1, 10)
	s.link.QueueRead(probe.CaptureCharUUID, full[:8])
	s.link.QueueReadError(probe.CaptureCharUUID, boom)

	s.advance()
	s.advance()
	s.Require().Equal(probe.PhaseAwaitRead2, s.fetcher.Phase())

	sig, err := s.fetcher.Advance(s.ctx)
	s.ErrorIs(err, boom)
	s.Nil(sig)
	s.Equal(probe.PhaseIdle, s.fetcher.Phase(), "I/O failure MUST reset the fetcher")
}

func (s *CaptureFetcherTestSuite) TestDecodeErrorResetsToIdle() {
	full := testutils.RampCapture(1, 10)
	s.link.QueueRead(probe.CaptureCharUUID, full[:8])
	s.link.QueueRead(probe.CaptureCharUUID, append(full[8:], 0xFF, 0xFF)) // trailing garbage

	s.advance()
	s.advance()
	sig, err := s.fetcher.Advance(s.ctx)
	s.ErrorIs(err, probe.ErrBadPayload)
	s.True(probe.IsDecodeError(err), "decode failure MUST be reported as a recoverable decode error")
	s.Nil(sig)
	s.Equal(probe.PhaseIdle, s.fetcher.Phase())
}

func (s *CaptureFetcherTestSuite) TestShortSecondReadFails() {
	full := testutils.RampCapture(1, 10)
	s.link.QueueRead(probe.CaptureCharUUID, full[:8])
	s.link.QueueRead(probe.CaptureCharUUID, full[8:20])

	s.advance()
	s.advance()
	_, err := s.fetcher.Advance(s.ctx)
	s.ErrorIs(err, probe.ErrShortPayload)
	s.Equal(probe.PhaseIdle, s.fetcher.Phase())
}

func (s *CaptureFetcherTestSuite) TestCommandFailureStaysIdle() {
	boom := errors.New("write rejected")
	s.link.FailWrites(probe.CommandCharUUID, boom)

	_, err := s.fetcher.Advance(s.ctx)
	s.ErrorIs(err, boom)
	s.Equal(probe.PhaseIdle, s.fetcher.Phase())
}

func TestCaptureFetcherTestSuite(t *testing.T) {
	suite.Run(t, new(CaptureFetcherTestSuite))
}

func TestDecodeCapture_Header(t *testing.T) {
	info := testutils.TestProbeInfo()

	_, err := probe.DecodeCapture([]byte{1, 0}, info)
	if !errors.Is(err, probe.ErrShortPayload) {
		t.Fatalf("2-byte capture MUST be a short payload, got %v", err)
	}

	zeroDivider := testutils.RampCapture(1, 2)
	zeroDivider[1] = 0
	_, err = probe.DecodeCapture(zeroDivider, info)
	if !errors.Is(err, probe.ErrBadPayload) {
		t.Fatalf("zero divider MUST be rejected, got %v", err)
	}

	empty, err := probe.DecodeCapture(testutils.RampCapture(20, 0), info)
	if err != nil {
		t.Fatalf("empty capture MUST decode: %v", err)
	}
	if empty.Len() != 0 || empty.SampleRate != 500 {
		t.Fatalf("unexpected empty capture %+v", empty)
	}
}
