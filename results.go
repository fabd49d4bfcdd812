package qkdnet

// results.go holds the Results record produced at run termination, its
// yaml/json serialization, and the collaborators that render a batch of
// records as a CSV table or a formatted text summary.

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// A Results record is the final aggregate of one run.  Produced once, at
// termination; all maps are keyed by the pair's source-user name.
type Results struct {
	Name     string  `json:"name,omitempty" yaml:"name,omitempty"`
	NodeMode string  `json:"nodemode" yaml:"nodemode"`
	N        int     `json:"n" yaml:"n"`
	Q        float64 `json:"q" yaml:"q"`
	Px       float64 `json:"px" yaml:"px"`

	// simulated ms consumed by the run
	TotalSimTime float64 `json:"totalsimtime" yaml:"totalsimtime"`
	Rounds       int     `json:"rounds" yaml:"rounds"`

	FinishedKeys int            `json:"finishedkeys" yaml:"finishedkeys"`
	TotalKeyBits int64          `json:"totalkeybits" yaml:"totalkeybits"`
	UserPairKeys map[string]int `json:"userpairkeys" yaml:"userpairkeys"`

	AverageKeyRate  float64            `json:"averagekeyrate" yaml:"averagekeyrate"`
	UserPairKeyRate map[string]float64 `json:"userpairkeyrate" yaml:"userpairkeyrate"`

	TotalCost           float64            `json:"totalcost" yaml:"totalcost"`
	AverageCost         float64            `json:"averagecost" yaml:"averagecost"`
	UserPairTotalCost   map[string]float64 `json:"userpairtotalcost" yaml:"userpairtotalcost"`
	UserPairAverageCost map[string]float64 `json:"userpairaveragecost" yaml:"userpairaveragecost"`

	AverageQBER float64 `json:"averageqber" yaml:"averageqber"`

	// pairs excluded after the bounded stall check (or never routable)
	StalledPairs []string `json:"stalledpairs,omitempty" yaml:"stalledpairs,omitempty"`

	// every completed key, with its generation time and hop QBERs
	Keys []KeyRecord `json:"keys,omitempty" yaml:"keys,omitempty"`
}

// results assembles the final record from the run's accumulators
func (ex *Experiment) results() *Results {
	trk := ex.tracker

	res := new(Results)
	res.Name = ex.Cfg.Name
	res.NodeMode = ex.Cfg.NodeMode
	res.N = ex.Cfg.QuantumRounds
	res.Q = ex.Cfg.LinkNoise
	res.Px = ex.Cfg.ProbXBasis
	res.TotalSimTime = ex.elapsed
	res.Rounds = ex.rounds
	res.FinishedKeys = trk.finishedKeys
	res.TotalKeyBits = trk.totalBits
	res.AverageKeyRate = trk.avgKeyRate
	res.TotalCost = trk.totalCost
	res.AverageCost = trk.avgCost
	res.AverageQBER = trk.averageQBER()
	res.Keys = trk.records

	res.UserPairKeys = make(map[string]int)
	res.UserPairKeyRate = make(map[string]float64)
	res.UserPairTotalCost = make(map[string]float64)
	res.UserPairAverageCost = make(map[string]float64)
	for src, ps := range trk.byPair {
		res.UserPairKeys[src] = ps.keys
		res.UserPairKeyRate[src] = ps.keyRate
		res.UserPairTotalCost[src] = ps.totalCost
		res.UserPairAverageCost[src] = ps.avgCost
	}

	for _, ses := range ex.sessions {
		if ses.state == Stalled {
			res.StalledPairs = append(res.StalledPairs, ses.pair.Source)
		}
	}
	sort.Strings(res.StalledPairs)

	return res
}

// WriteToFile stores the Results struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (res *Results) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*res)
	} else {
		bytes, merr = json.MarshalIndent(*res, "", "\t")
	}
	if merr != nil {
		return merr
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		return cerr
	}
	if _, werr := f.WriteString(string(bytes)); werr != nil {
		f.Close()
		return werr
	}
	return f.Close()
}

// pairColumns returns the sorted source-user names of a record
func (res *Results) pairColumns() []string {
	pairs := make([]string, 0, len(res.UserPairKeys))
	for src := range res.UserPairKeys {
		pairs = append(pairs, src)
	}
	sort.Strings(pairs)
	return pairs
}

// pairLabel renders "a3-b3" from a source-user name
func pairLabel(src string) string {
	return src + "-b" + src[1:]
}

// WriteResultsCSV renders a batch of results as one CSV table, one row per
// run: run-level fields, then per-pair key counts, key rates, and costs.
func WriteResultsCSV(w io.Writer, results []*Results) error {
	if len(results) == 0 {
		return fmt.Errorf("no results to write")
	}
	pairs := results[0].pairColumns()

	cw := csv.NewWriter(w)
	header := []string{"Mode", "Time_Simulated", "Num_Rounds", "N", "Q", "px", "total_keys"}
	for _, src := range pairs {
		header = append(header, pairLabel(src)+"_keys")
	}
	header = append(header, "avg_key_rate")
	for _, src := range pairs {
		header = append(header, pairLabel(src)+"_key_rate")
	}
	header = append(header, "total_cost")
	for _, src := range pairs {
		header = append(header, pairLabel(src)+"_total_cost")
	}
	header = append(header, "avg_cost")
	for _, src := range pairs {
		header = append(header, pairLabel(src)+"_avg_cost")
	}
	header = append(header, "avg_qber")
	if err := cw.Write(header); err != nil {
		return err
	}

	ffmt := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for _, res := range results {
		row := []string{
			res.NodeMode,
			ffmt(res.TotalSimTime),
			strconv.Itoa(res.Rounds),
			strconv.Itoa(res.N),
			ffmt(res.Q),
			ffmt(res.Px),
			strconv.Itoa(res.FinishedKeys),
		}
		for _, src := range pairs {
			row = append(row, strconv.Itoa(res.UserPairKeys[src]))
		}
		row = append(row, ffmt(res.AverageKeyRate))
		for _, src := range pairs {
			row = append(row, ffmt(res.UserPairKeyRate[src]))
		}
		row = append(row, ffmt(res.TotalCost))
		for _, src := range pairs {
			row = append(row, ffmt(res.UserPairTotalCost[src]))
		}
		row = append(row, ffmt(res.AverageCost))
		for _, src := range pairs {
			row = append(row, ffmt(res.UserPairAverageCost[src]))
		}
		row = append(row, ffmt(res.AverageQBER))
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// Summary renders the record as the formatted block the front ends display
func (res *Results) Summary() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "\n[]-----[ Simulation Information ]-----[]\n")
	fmt.Fprintf(&sb, "Non-user nodes: %ss\n\n", res.NodeMode)
	fmt.Fprintf(&sb, "Time simulated: %.2f sec\n", res.TotalSimTime/1000.0)
	fmt.Fprintf(&sb, "Simulator rounds: %d\n", res.Rounds)
	fmt.Fprintf(&sb, "Rounds per quantum phase: %d\n", res.N)
	fmt.Fprintf(&sb, "Link-level noise: %.1f%%\n", res.Q*100.0)
	fmt.Fprintf(&sb, "X-basis probability: %g\n", res.Px)

	fmt.Fprintf(&sb, "\n[]-----[ Efficiency Statistics ]-----[]\n")
	fmt.Fprintf(&sb, "Total keys generated: %d\n", res.FinishedKeys)
	fmt.Fprintf(&sb, "Keys by user pair:\n")
	for _, src := range res.pairColumns() {
		fmt.Fprintf(&sb, "----[ %s ]: %d\n", pairLabel(src), res.UserPairKeys[src])
	}
	fmt.Fprintf(&sb, "Average key rate: %.4f\n", res.AverageKeyRate)
	fmt.Fprintf(&sb, "Average QBER: %.4f\n", res.AverageQBER)
	fmt.Fprintf(&sb, "Cost incurred: %.0f\n", res.TotalCost)
	if len(res.StalledPairs) > 0 {
		fmt.Fprintf(&sb, "Stalled pairs: %s\n", strings.Join(res.StalledPairs, ", "))
	}

	return sb.String()
}
