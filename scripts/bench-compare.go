//go:build ignore

// Package main compares two Go benchmark output files and flags
// regressions. Intended for the index/search benchmarks:
//
//	go test -bench . -benchmem ./internal/... > current.txt
//	go run scripts/bench-compare.go current.txt baseline.txt
//
// A benchmark whose ns/op worsens by more than the threshold fails the
// run (exit code 1) unless -fail=false.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
)

var (
	jsonOut   = flag.Bool("json", false, "Emit the report as JSON")
	threshold = flag.Float64("threshold", 0.20, "Relative ns/op slowdown treated as a regression")
	showAll   = flag.Bool("all", false, "Print unchanged benchmarks too")
	failHard  = flag.Bool("fail", true, "Exit non-zero when a regression is found")
)

// measurement is one parsed benchmark line.
type measurement struct {
	Name        string  `json:"name"`
	NsPerOp     float64 `json:"ns_per_op"`
	BytesPerOp  int64   `json:"bytes_per_op,omitempty"`
	AllocsPerOp int64   `json:"allocs_per_op,omitempty"`
}

// delta pairs a current measurement with its baseline.
type delta struct {
	Name     string  `json:"name"`
	Current  float64 `json:"current_ns_per_op"`
	Baseline float64 `json:"baseline_ns_per_op"`
	Change   float64 `json:"change"` // (current-baseline)/baseline
	Verdict  string  `json:"verdict"`
}

type report struct {
	Compared    int      `json:"compared"`
	Regressions int      `json:"regressions"`
	Improved    int      `json:"improved"`
	New         []string `json:"new,omitempty"`
	Removed     []string `json:"removed,omitempty"`
	Deltas      []delta  `json:"deltas"`
}

// benchLine matches "BenchmarkX-8  1000  1234 ns/op  56 B/op  7 allocs/op".
var benchLine = regexp.MustCompile(`^(Benchmark\S+)\s+\d+\s+([\d.]+)\s+ns/op(?:\s+(\d+)\s+B/op)?(?:\s+(\d+)\s+allocs/op)?`)

func parseFile(path string) (map[string]measurement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]measurement)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m := benchLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		meas := measurement{Name: m[1]}
		meas.NsPerOp, _ = strconv.ParseFloat(m[2], 64)
		if m[3] != "" {
			meas.BytesPerOp, _ = strconv.ParseInt(m[3], 10, 64)
		}
		if m[4] != "" {
			meas.AllocsPerOp, _ = strconv.ParseInt(m[4], 10, 64)
		}
		out[meas.Name] = meas
	}
	return out, sc.Err()
}

func buildReport(current, baseline map[string]measurement, threshold float64) *report {
	r := &report{}
	for name, cur := range current {
		base, ok := baseline[name]
		if !ok {
			r.New = append(r.New, name)
			continue
		}
		r.Compared++
		d := delta{Name: name, Current: cur.NsPerOp, Baseline: base.NsPerOp}
		if base.NsPerOp > 0 {
			d.Change = (cur.NsPerOp - base.NsPerOp) / base.NsPerOp
		}
		switch {
		case d.Change > threshold:
			d.Verdict = "regression"
			r.Regressions++
		case d.Change < -threshold/2:
			d.Verdict = "improved"
			r.Improved++
		default:
			d.Verdict = "unchanged"
		}
		r.Deltas = append(r.Deltas, d)
	}
	for name := range baseline {
		if _, ok := current[name]; !ok {
			r.Removed = append(r.Removed, name)
		}
	}
	sort.Slice(r.Deltas, func(i, j int) bool { return r.Deltas[i].Change > r.Deltas[j].Change })
	sort.Strings(r.New)
	sort.Strings(r.Removed)
	return r
}

func printText(r *report, showAll bool) {
	for _, d := range r.Deltas {
		if d.Verdict == "unchanged" && !showAll {
			continue
		}
		fmt.Printf("%-12s %-50s %10.0f -> %10.0f ns/op (%+.1f%%)\n",
			d.Verdict, d.Name, d.Baseline, d.Current, d.Change*100)
	}
	for _, name := range r.New {
		fmt.Printf("%-12s %s\n", "new", name)
	}
	for _, name := range r.Removed {
		fmt.Printf("%-12s %s\n", "removed", name)
	}
	fmt.Printf("\n%d compared, %d regressions, %d improved, %d new, %d removed\n",
		r.Compared, r.Regressions, r.Improved, len(r.New), len(r.Removed))
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <current.txt> <baseline.txt>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	current, err := parseFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "cannot parse current results:", err)
		os.Exit(1)
	}
	baseline, err := parseFile(flag.Arg(1))
	if err != nil {
		fmt.Fprintln(os.Stderr, "cannot parse baseline results:", err)
		os.Exit(1)
	}

	r := buildReport(current, baseline, *threshold)

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			fmt.Fprintln(os.Stderr, "cannot encode report:", err)
			os.Exit(1)
		}
	} else {
		printText(r, *showAll)
	}

	if *failHard && r.Regressions > 0 {
		os.Exit(1)
	}
}
