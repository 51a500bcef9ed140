package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/srg/stepprobe/internal/device"
	"github.com/srg/stepprobe/internal/metrics"
	"github.com/srg/stepprobe/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const testChar = "ff03"

// WorkerTestSuite covers link ownership, timeouts, back-pressure and the circuit breaker
type WorkerTestSuite struct {
	suite.Suite

	link    *testutils.FakeLink
	metrics *metrics.Metrics
	ctx     context.Context
	cancel  context.CancelFunc
}

func (suite *WorkerTestSuite) SetupTest() {
	suite.link = testutils.NewFakeLink(testutils.TestProbeAddress)
	suite.metrics = metrics.New(prometheus.NewRegistry())
	suite.ctx, suite.cancel = context.WithCancel(context.Background())
}

func (suite *WorkerTestSuite) TearDownTest() {
	suite.cancel()
}

func (suite *WorkerTestSuite) newWorker(cfg Config) *Worker {
	logger, _ := testutils.NewCapturingLogger(0)
	w := New(suite.ctx, suite.link, cfg, logger, suite.metrics)
	suite.T().Cleanup(func() { _ = w.Close() })
	return w
}

func (suite *WorkerTestSuite) TestPassThrough() {
	// GOAL: Verify the worker forwards every operation to the link and returns its result
	//
	// TEST SCENARIO: Read, write and subscribe through the worker → link records each op in order
	suite.link.QueueRead(testChar, []byte{1, 2, 3})
	w := suite.newWorker(Config{})

	data, err := w.Read(suite.ctx, testChar)
	suite.Require().NoError(err)
	suite.Equal([]byte{1, 2, 3}, data)

	suite.Require().NoError(w.Write(suite.ctx, "ff06", []byte{0x01}))

	var got []byte
	suite.Require().NoError(w.Subscribe(suite.ctx, "ff02", func(b []byte) { got = b }))
	suite.True(suite.link.Notify("ff02", []byte{9}), "subscription MUST reach the link")
	suite.Equal([]byte{9}, got)

	suite.Equal([]string{"read:ff03", "write:ff06", "subscribe:ff02"}, suite.link.Ops())
	suite.Equal(testutils.TestProbeAddress, w.Address())
}

func (suite *WorkerTestSuite) TestTimeout() {
	// GOAL: Verify a stalled link resolves to ErrTimeout instead of blocking forever
	//
	// TEST SCENARIO: Blocking link + 30ms op timeout → Read returns ErrTimeout promptly
	suite.link.Block = true
	w := suite.newWorker(Config{OpTimeout: 30 * time.Millisecond})

	start := time.Now()
	_, err := w.Read(suite.ctx, testChar)

	suite.ErrorIs(err, ErrTimeout, "stalled read MUST resolve to ErrTimeout")
	suite.ErrorIs(err, device.ErrTimeout, "ErrTimeout MUST match device.ErrTimeout")
	suite.Less(time.Since(start), time.Second, "timeout MUST NOT stall the caller")
	suite.Equal(1.0, testutil.ToFloat64(suite.metrics.LinkErrors.WithLabelValues("read")))
}

func (suite *WorkerTestSuite) TestBusy() {
	// GOAL: Verify a full operation queue rejects new work with ErrBusy
	//
	// TEST SCENARIO: Blocking link, queue of 1 → three concurrent reads → at least one ErrBusy
	suite.link.Block = true
	w := suite.newWorker(Config{QueueSize: 1, OpTimeout: 300 * time.Millisecond})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Read(suite.ctx, testChar)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	busy := 0
	for _, err := range errs {
		if errors.Is(err, ErrBusy) {
			busy++
		}
	}
	suite.GreaterOrEqual(busy, 1, "queue overflow MUST return ErrBusy")
}

func (suite *WorkerTestSuite) TestCircuitBreaker() {
	// GOAL: Verify consecutive failures open the breaker and later ops fail fast
	//
	// TEST SCENARIO: Three failing reads with max failures 3 → fourth read returns ErrLinkUnavailable without touching the link
	linkErr := errors.New("att error")
	for i := 0; i < 3; i++ {
		suite.link.QueueReadError(testChar, linkErr)
	}
	suite.link.SetValue(testChar, []byte{1})
	w := suite.newWorker(Config{BreakerMaxFailures: 3, BreakerTimeout: time.Hour})

	for i := 0; i < 3; i++ {
		_, err := w.Read(suite.ctx, testChar)
		suite.ErrorIs(err, linkErr)
	}
	suite.Equal(gobreaker.StateOpen, w.State(), "breaker MUST open after max consecutive failures")
	suite.Equal(1.0, testutil.ToFloat64(suite.metrics.BreakerOpen))

	_, err := w.Read(suite.ctx, testChar)
	suite.ErrorIs(err, ErrLinkUnavailable, "open breaker MUST fail fast")
	suite.Len(suite.link.Reads(), 3, "open breaker MUST NOT reach the link")
}

func (suite *WorkerTestSuite) TestBreakerRecovers() {
	// GOAL: Verify the breaker closes again after a successful half-open probe
	//
	// TEST SCENARIO: Trip breaker with short timeout → wait → successful read closes it
	suite.link.QueueReadError(testChar, errors.New("att error"))
	suite.link.SetValue(testChar, []byte{7})
	w := suite.newWorker(Config{BreakerMaxFailures: 1, BreakerTimeout: 20 * time.Millisecond})

	_, err := w.Read(suite.ctx, testChar)
	suite.Require().Error(err)
	suite.Equal(gobreaker.StateOpen, w.State())

	suite.Eventually(func() bool {
		data, err := w.Read(suite.ctx, testChar)
		return err == nil && len(data) == 1
	}, time.Second, 10*time.Millisecond, "half-open probe MUST reach the link")
	suite.Equal(gobreaker.StateClosed, w.State())
	suite.Equal(0.0, testutil.ToFloat64(suite.metrics.BreakerOpen))
}

func (suite *WorkerTestSuite) TestClose() {
	// GOAL: Verify Close stops the worker, closes the link and rejects further ops
	//
	// TEST SCENARIO: Close worker → link closed → Read returns ErrClosed → second Close is a no-op
	w := suite.newWorker(Config{})

	suite.Require().NoError(w.Close())
	suite.True(suite.link.Closed(), "Close MUST close the link")

	_, err := w.Read(suite.ctx, testChar)
	suite.ErrorIs(err, ErrClosed)
	suite.NoError(w.Close())
}

func (suite *WorkerTestSuite) TestCallerCancellation() {
	// GOAL: Verify a cancelled caller context short-circuits without tripping the breaker
	//
	// TEST SCENARIO: Cancelled ctx → Read returns context.Canceled → breaker stays closed
	w := suite.newWorker(Config{BreakerMaxFailures: 1})

	ctx, cancel := context.WithCancel(suite.ctx)
	cancel()
	_, err := w.Read(ctx, testChar)

	suite.ErrorIs(err, context.Canceled)
	suite.Equal(gobreaker.StateClosed, w.State())
}

func TestWorkerTestSuite(t *testing.T) {
	suite.Run(t, new(WorkerTestSuite))
}
