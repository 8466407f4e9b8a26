// Package uuid generates measurement identifiers (§4.2's MeasurementID) that
// are unique within a host's current boot, following the same
// hostname+boottime approach tcp-info uses for socket UUIDs: two processes
// started on the same host between reboots can still collide on a bare
// nanosecond timestamp if the clock is coarse or stepped backward, but they
// cannot collide on hostname+boottime+a per-process counter.
package uuid

import (
	"fmt"
	"hash/fnv"
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var (
	cachedPrefixString string
	counter            uint64
)

func timeToUnix(t time.Time) int64 {
	return int64(t.Sub(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)).Seconds())
}

// getBoottimeWithRaceCondition has a race condition between reading
// /proc/uptime and calling time.Now(): if a second-granularity boundary is
// crossed between the two syscalls the result is off by one. Call it
// repeatedly until it returns the same answer twice to eliminate that.
func getBoottimeWithRaceCondition() (int64, error) {
	procuptime, err := ioutil.ReadFile("/proc/uptime")
	if err != nil {
		return -1, err
	}
	fields := strings.Split(string(procuptime), " ")
	if len(fields) != 2 {
		return -1, fmt.Errorf("could not split /proc/uptime into two fields")
	}
	uptime, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return -1, fmt.Errorf("could not parse /proc/uptime as a float: %w", err)
	}
	return timeToUnix(time.Now().Add(time.Duration(-1 * uptime * float64(time.Second)))), nil
}

func getBoottime() (int64, error) {
	var prev, curr int64
	curr, err := getBoottimeWithRaceCondition()
	if err != nil {
		return curr, err
	}
	for prev != curr {
		prev = curr
		curr, err = getBoottimeWithRaceCondition()
		if err != nil {
			return curr, err
		}
	}
	return curr, nil
}

// getPrefix returns a string combining the hostname and boot time, which
// uniquely identifies this process's UUID namespace until the next reboot
// or hostname change. Cached because both inputs are constant for the life
// of the process.
func getPrefix() (string, error) {
	if cachedPrefixString != "" {
		return cachedPrefixString, nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "", err
	}
	boottime, err := getBoottime()
	if err != nil {
		// /proc/uptime is Linux-only; fall back to just the hostname so
		// non-Linux platforms still get unique-per-process-run IDs via the
		// counter below, at the cost of cross-run collision avoidance.
		cachedPrefixString = hostname
		return cachedPrefixString, nil
	}
	cachedPrefixString = fmt.Sprintf("%s_%d", hostname, boottime)
	return cachedPrefixString, nil
}

// New returns a measurement identifier unique among every call made by this
// process since boot (assuming hostnames are unique): a hash of the
// hostname+boottime prefix combined with a monotonic per-process counter,
// folded into the uint64 the wire's MeasurementID field carries (§4.2).
func New() uint64 {
	prefix, err := getPrefix()
	if err != nil {
		prefix = fmt.Sprintf("unknown-%d", time.Now().UnixNano())
	}
	n := atomic.AddUint64(&counter, 1)

	h := fnv.New64a()
	fmt.Fprintf(h, "%s_%d_%d", prefix, n, time.Now().UnixNano())
	return h.Sum64()
}
