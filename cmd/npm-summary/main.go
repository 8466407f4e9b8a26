// Main package npm-summary turns one or more NetPerfMeter scalar files into
// a single CSV table, one row per scalar object (flow or total), the
// Go-native counterpart to original_source/src/createsummary.cc's
// post-processing role: a thin convenience command kept out of the
// measurement core.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/m-lab/go/rtx"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// Row is one scalar object's metrics, flattened for CSV export (§6.2's
// scalar objects: netPerfMeter.<side>.flow[<id>]/.total/.CPU[<i>]/.totalCPU).
type Row struct {
	File               string  `csv:"file"`
	Object             string  `csv:"object"`
	TransmittedBytes   uint64  `csv:"transmittedBytes"`
	TransmittedPackets uint64  `csv:"transmittedPackets"`
	TransmittedFrames  uint64  `csv:"transmittedFrames"`
	ReceivedBytes      uint64  `csv:"receivedBytes"`
	ReceivedPackets    uint64  `csv:"receivedPackets"`
	ReceivedFrames     uint64  `csv:"receivedFrames"`
	LostBytes          uint64  `csv:"lostBytes"`
	LostPackets        uint64  `csv:"lostPackets"`
	LostFrames         uint64  `csv:"lostFrames"`
	Jitter             float64 `csv:"jitter"`
	Utilization        float64 `csv:"utilization"`
}

var scalarLine = regexp.MustCompile(`^scalar\s+"([^"]*)"\s+"([^"]*)"\s+(.+)$`)

// readScalarFile parses path's `scalar "<object>" "<metric>" <value>` lines
// (measurement.Measurement.WriteScalarStatistics's exact output format)
// into one Row per object, in first-seen order.
func readScalarFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	order := []string{}
	rows := map[string]*Row{}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := scalarLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		object, metric, value := m[1], m[2], m[3]
		row, ok := rows[object]
		if !ok {
			row = &Row{File: path, Object: object}
			rows[object] = row
			order = append(order, object)
		}
		setMetric(row, metric, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	out := make([]Row, 0, len(order))
	for _, object := range order {
		out = append(out, *rows[object])
	}
	return out, nil
}

func setMetric(row *Row, metric, value string) {
	switch metric {
	case "transmittedBytes":
		row.TransmittedBytes = parseUint(value)
	case "transmittedPackets":
		row.TransmittedPackets = parseUint(value)
	case "transmittedFrames":
		row.TransmittedFrames = parseUint(value)
	case "receivedBytes":
		row.ReceivedBytes = parseUint(value)
	case "receivedPackets":
		row.ReceivedPackets = parseUint(value)
	case "receivedFrames":
		row.ReceivedFrames = parseUint(value)
	case "lostBytes":
		row.LostBytes = parseUint(value)
	case "lostPackets":
		row.LostPackets = parseUint(value)
	case "lostFrames":
		row.LostFrames = parseUint(value)
	case "jitter":
		row.Jitter = parseFloat(value)
	case "utilization":
		row.Utilization = parseFloat(value)
	}
}

func parseUint(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <scalar-file> [<scalar-file>...]\n", os.Args[0])
		os.Exit(1)
	}

	var rows []Row
	for _, path := range os.Args[1:] {
		fileRows, err := readScalarFile(path)
		rtx.Must(err, "Could not read scalar file %q", path)
		rows = append(rows, fileRows...)
	}

	rtx.Must(gocsv.Marshal(rows, os.Stdout), "Could not write CSV summary")
}
