//go:build linux

package cpustatus

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// linuxSampler reads per-core jiffie counters from /proc/stat. Fields beyond
// Steal (guest, guest_nice) exist on modern kernels but are folded into User
// the way /proc/stat documents them, so we only track the 8 states the
// original tool modeled.
type linuxSampler struct {
	cpus    int
	cur     [][]uint64 // [cpuIndex][state], cpuIndex 0 = aggregate
	prev    [][]uint64
	havePrev bool
}

// NewLinuxSampler opens /proc/stat and determines the number of CPUs present.
func NewLinuxSampler() (Sampler, error) {
	s := &linuxSampler{}
	if err := s.Update(); err != nil {
		return nil, err
	}
	return s, nil
}

// New returns the platform's best available Sampler.
func New() (Sampler, error) {
	return NewLinuxSampler()
}

// procStatPath is a var so tests can point it at a fixture file.
var procStatPath = "/proc/stat"

func readProcStat() ([][]uint64, error) {
	f, err := os.Open(procStatPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows [][]uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "cpu") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		row := make([]uint64, len(StateNames))
		for i := range row {
			if i+1 >= len(fields) {
				break
			}
			v, err := strconv.ParseUint(fields[i+1], 10, 64)
			if err != nil {
				break
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *linuxSampler) Update() error {
	rows, err := readProcStat()
	if err != nil {
		return err
	}
	s.prev = s.cur
	s.cur = rows
	s.cpus = len(rows) - 1 // row 0 is the "cpu" aggregate
	if s.cpus < 0 {
		s.cpus = 0
	}
	s.havePrev = s.prev != nil
	return nil
}

func (s *linuxSampler) NumCPUs() int {
	return s.cpus
}

func (s *linuxSampler) Percentages(cpuIndex int) []float64 {
	pct := make([]float64, len(StateNames))
	if cpuIndex < 0 || cpuIndex >= len(s.cur) || !s.havePrev || cpuIndex >= len(s.prev) {
		return pct
	}
	cur := s.cur[cpuIndex]
	prev := s.prev[cpuIndex]

	var total uint64
	deltas := make([]uint64, len(StateNames))
	for i := range StateNames {
		if i >= len(cur) || i >= len(prev) || cur[i] < prev[i] {
			continue
		}
		deltas[i] = cur[i] - prev[i]
		total += deltas[i]
	}
	if total == 0 {
		return pct
	}
	for i := range StateNames {
		pct[i] = 100 * float64(deltas[i]) / float64(total)
	}
	return pct
}

func (s *linuxSampler) Utilization(cpuIndex int) float64 {
	return utilizationFromPercentages(s.Percentages(cpuIndex))
}
