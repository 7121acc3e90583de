package pktsim

// pktsim.go has the code that assembles an experiment from its input files,
// runs it, and summarizes what happened

import (
	"fmt"
	"path"
	"strings"

	"golang.org/x/exp/slices"
)

// keys of the map handed to BuildExperiment
const (
	ScenarioFileKey = "scenario" // scenario description, or dictionary of them
	ScenarioNameKey = "name"     // scenario to select from a dictionary
	TraceFileKey    = "trace"    // trace output; empty for no trace
)

// Experiment is a network built from a scenario description, with its trace manager
type Experiment struct {
	Scenario *ScenarioDesc
	Network  *Network
	Trace    *TraceManager
	traceOut string
}

// BuildExperiment is called from the module that creates and runs a
// simulation.  syn binds the keys ScenarioFileKey, ScenarioNameKey and
// TraceFileKey to their values.
func BuildExperiment(syn map[string]string) (*Experiment, error) {
	errs := []error{}
	if len(syn[ScenarioFileKey]) == 0 {
		return nil, fmt.Errorf("no scenario file named")
	}
	if _, err := CheckReadableFiles([]string{syn[ScenarioFileKey]}); err != nil {
		errs = append(errs, err)
	}
	traceOut := syn[TraceFileKey]
	if len(traceOut) > 0 {
		if _, err := CheckOutputFiles([]string{traceOut}); err != nil {
			errs = append(errs, err)
		}
		if ext := path.Ext(traceOut); !IsYAMLFile(traceOut) && ext != ".json" && ext != ".JSON" {
			errs = append(errs, fmt.Errorf("trace file %s needs a .yaml or .json extension", traceOut))
		}
	}
	if err := ReportErrs(errs); err != nil {
		return nil, err
	}

	sd, err := LoadScenario(syn[ScenarioFileKey], syn[ScenarioNameKey])
	if err != nil {
		return nil, err
	}

	tm := CreateTraceManager(sd.Name, len(traceOut) > 0)
	net, err := sd.BuildNetwork(nil, tm)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sd.Name, err)
	}
	return &Experiment{Scenario: sd, Network: net, Trace: tm, traceOut: traceOut}, nil
}

// Run runs the experiment, through time until if until is positive and to
// completion otherwise, then writes the trace.  It returns true if no events
// remain.
func (exp *Experiment) Run(until float64) (bool, error) {
	done := true
	if until > 0.0 {
		done = exp.Network.RunUntil(until)
	} else {
		exp.Network.Run()
	}
	if len(exp.traceOut) > 0 {
		if err := exp.Trace.WriteToFile(exp.traceOut); err != nil {
			return done, err
		}
	}
	return done, nil
}

// FlowSummary reports what one flow achieved
type FlowSummary struct {
	Flow      string  `json:"flow" yaml:"flow"`
	Kind      string  `json:"kind" yaml:"kind"`
	Sent      int     `json:"sent" yaml:"sent"`           // new segments sent
	Delivered int     `json:"delivered" yaml:"delivered"` // segments at the acker
	Resends   int     `json:"resends" yaml:"resends"`
	Window    float64 `json:"window" yaml:"window"` // final congestion window, or the fixed window
}

// LinkSummary reports the counters of one direction of a link
type LinkSummary struct {
	Link        string    `json:"link" yaml:"link"`
	Stats       LinkStats `json:"stats" yaml:"stats"`
	Utilization float64   `json:"utilization" yaml:"utilization"` // fraction of the elapsed time spent serializing
}

// Summary reports the state of a network at the end of a run
type Summary struct {
	Name    string        `json:"name" yaml:"name"`
	Time    float64       `json:"time" yaml:"time"`
	Events  int           `json:"events" yaml:"events"`
	Pending int           `json:"pending" yaml:"pending"`
	Flows   []FlowSummary `json:"flows" yaml:"flows"`
	Links   []LinkSummary `json:"links" yaml:"links"`
}

// Summarize gathers the counters of every flow and every link that carried traffic
func (net *Network) Summarize() Summary {
	sum := Summary{Name: net.Name, Time: net.Now(), Events: net.evtMgr.Fired(), Pending: net.evtMgr.Pending(),
		Flows: []FlowSummary{}, Links: []LinkSummary{}}

	for _, flow := range net.flows {
		fs := FlowSummary{Flow: flow.Name(), Kind: flow.Kind.String(), Sent: flow.Sent(), Delivered: flow.Delivered()}
		switch flow.Kind {
		case WindowFlow:
			fs.Window = float64(flow.Window)
		case TCPFlow:
			fs.Resends = flow.TCPSender.Resends()
			fs.Window = flow.TCPSender.Window()
		}
		sum.Flows = append(sum.Flows, fs)
	}

	for _, link := range net.Links() {
		if link.Stats().Enqueued == 0 {
			continue
		}
		ls := LinkSummary{Link: link.Name(), Stats: link.Stats()}
		if sum.Time > 0.0 {
			ls.Utilization = float64(ls.Stats.BitsSent) / (link.Bandwidth() * sum.Time)
		}
		sum.Links = append(sum.Links, ls)
	}
	slices.SortFunc(sum.Links, func(a, b LinkSummary) int {
		return strings.Compare(a.Link, b.Link)
	})
	return sum
}
