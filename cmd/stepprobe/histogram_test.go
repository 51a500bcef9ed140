//go:build test

package main

import (
	"testing"

	"github.com/srg/stepprobe/internal/probe"
	"github.com/srg/stepprobe/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// HistogramTestSuite tests the histogram command
type HistogramTestSuite struct {
	CommandTestSuite
}

func (suite *HistogramTestSuite) TestHistogramTimeJSON() {
	// GOAL: Verify time histograms are normalized to percent with centers scaled to units/sec
	//
	// TEST SCENARIO: Uniform raw values, width 100 steps, 10 steps/mm → 5% per bucket, centers 5, 15, ... mm/s
	out, err := suite.ExecuteCommand("histogram", "time", "--device", TestProbeName,
		"--steps-per-unit", "10", "--units", "mm", "--format", "json")
	suite.Require().NoError(err)

	buckets := make([]map[string]float64, probe.HistogramBuckets)
	for i := range buckets {
		buckets[i] = map[string]float64{"center": 5 + 10*float64(i), "height": 5}
	}
	testutils.NewJSONAsserter(suite.T()).Assert(out, testutils.MustJSON(map[string]any{
		"kind":         "time",
		"units":        "mm",
		"bucket_width": 10,
		"buckets":      buckets,
	}))
}

func (suite *HistogramTestSuite) TestHistogramCurrentTable() {
	out, err := suite.ExecuteCommand("histogram", "current", "--device", TestProbeName)
	suite.Require().NoError(err)

	suite.Contains(out, "SPEED (steps/s)")
	suite.Contains(out, "AMPS", "current histograms MUST be labelled in amps")
	suite.Contains(out, "0.50", "500 ticks at 1000 ticks/A MUST read 0.50 A")
	suite.NotContains(out, "PERCENT")

	reads := suite.Link.Reads()
	suite.Equal(probe.CurrentHistogramCharUUID, reads[len(reads)-1].Char, "current MUST be read from its own characteristic")
}

func (suite *HistogramTestSuite) TestHistogramDistanceYAML() {
	out, err := suite.ExecuteCommand("histogram", "distance", "--device", TestProbeName, "--format", "yaml")
	suite.Require().NoError(err)

	suite.Contains(out, "kind: distance\n")
	suite.Contains(out, "bucket_width: 100\n")
	suite.Contains(out, "- center: 50\n")
}

func (suite *HistogramTestSuite) TestHistogramRejectsUnknownKind() {
	_, err := suite.ExecuteCommand("histogram", "voltage", "--device", TestProbeName)
	suite.Require().Error(err)
	suite.Empty(suite.Connector.connects, "invalid arguments MUST be rejected before connecting")
}

func (suite *HistogramTestSuite) TestHistogramDecodeError() {
	suite.Link.SetValue(probe.TimeHistogramCharUUID, []byte{1, 20})

	_, err := suite.ExecuteCommand("histogram", "time", "--device", TestProbeName)

	var decErr *probe.DecodeError
	suite.Require().ErrorAs(err, &decErr)
	suite.Contains(FormatUserError(err), "unexpected probe data")
	suite.True(suite.Link.Closed(), "decode failures MUST still disconnect")
}

func TestHistogramTestSuite(t *testing.T) {
	suite.Run(t, new(HistogramTestSuite))
}
