package gtest

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// TimeFactorEnv is the environment variable read into [TimeFactor].
const TimeFactorEnv = "GWDOG_TEST_TIME_FACTOR"

// TimeFactor multiplies every test timeout produced by [ScaleMs].
//
// A short timeout that is fine on a workstation
// may be too short on a contended CI machine;
// setting GWDOG_TEST_TIME_FACTOR=3 triples every scaled timeout
// without changing any test.
var TimeFactor ScaledDuration = 1

func init() {
	f := os.Getenv(TimeFactorEnv)
	if f == "" {
		return
	}

	n, err := strconv.Atoi(f)
	if err != nil {
		panic(fmt.Errorf(
			"failed to parse %s (%q) into an integer: %w",
			TimeFactorEnv, f, err,
		))
	}

	if n <= 0 {
		panic(fmt.Errorf("%s must be positive; got %d", TimeFactorEnv, n))
	}

	TimeFactor = ScaledDuration(n)
}

// ScaledDuration is a duration already multiplied by [TimeFactor].
type ScaledDuration time.Duration

// ScaleMs returns ms milliseconds multiplied by [TimeFactor].
func ScaleMs(ms int64) ScaledDuration {
	return TimeFactor * ScaledDuration(ms) * ScaledDuration(time.Millisecond)
}

// Sleep calls [time.Sleep] with the given scaled duration.
func Sleep(dur ScaledDuration) {
	time.Sleep(time.Duration(dur))
}
