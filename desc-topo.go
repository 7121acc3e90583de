package pktsim

// desc-topo.go holds the serializable description of a scenario: the queue
// policy, the routers and end hosts, the links between them, the FIB
// entries, and the timed events that start flows.  A description is read
// from and written to YAML or JSON, checked by Validate, and turned into a
// runnable Network by BuildNetwork.

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// event operations a scenario may schedule
const (
	EventSend     = "send"     // start a fixed-window flow
	EventSendTCP  = "sendtcp"  // start a TCP flow
	EventTraffic  = "traffic"  // start background traffic
	EventSetSpeed = "setspeed" // change the playback speed
)

// RenderDesc carries display hints for a node.  The simulator does not use them.
type RenderDesc struct {
	X     float64 `json:"x" yaml:"x"`
	Y     float64 `json:"y" yaml:"y"`
	Color string  `json:"color,omitempty" yaml:"color,omitempty"`
}

// QueueDesc selects the queue policy of every link
type QueueDesc struct {
	Policy string    `json:"policy" yaml:"policy"`              // "fifo" (default) or "red"
	RED    REDParams `json:"red,omitempty" yaml:"red,omitempty"` // zero value selects defaults scaled to the capacity
}

// RouterDesc describes a router
type RouterDesc struct {
	Name   string      `json:"name" yaml:"name"`
	Render *RenderDesc `json:"render,omitempty" yaml:"render,omitempty"`
}

// EndHostDesc describes an end host and the link to its first hop
type EndHostDesc struct {
	Name      string      `json:"name" yaml:"name"`
	FirstHop  string      `json:"firsthop" yaml:"firsthop"`
	Capacity  int         `json:"capacity" yaml:"capacity"`   // packets, per direction
	Bandwidth float64     `json:"bandwidth" yaml:"bandwidth"` // bits per second
	Delay     float64     `json:"delay" yaml:"delay"`         // seconds
	Render    *RenderDesc `json:"render,omitempty" yaml:"render,omitempty"`
}

// LinkDesc describes a connection between two nodes, other than an end host's first hop
type LinkDesc struct {
	A         string  `json:"a" yaml:"a"`
	B         string  `json:"b" yaml:"b"`
	Capacity  int     `json:"capacity" yaml:"capacity"`
	Bandwidth float64 `json:"bandwidth" yaml:"bandwidth"`
	Delay     float64 `json:"delay" yaml:"delay"`
}

// FIBDesc is one FIB entry: at Router, packets for Dst go to NextHop
type FIBDesc struct {
	Router  string `json:"router" yaml:"router"`
	Dst     string `json:"dst" yaml:"dst"`
	NextHop string `json:"nexthop" yaml:"nexthop"`
}

// EventDesc is a timed action.  Which fields matter depends on Op.
type EventDesc struct {
	Time    float64 `json:"time" yaml:"time"`
	Op      string  `json:"op" yaml:"op"`
	Src     string  `json:"src,omitempty" yaml:"src,omitempty"`
	SrcPort int     `json:"srcport,omitempty" yaml:"srcport,omitempty"`
	Dst     string  `json:"dst,omitempty" yaml:"dst,omitempty"`
	DstPort int     `json:"dstport,omitempty" yaml:"dstport,omitempty"`
	Window  int     `json:"window,omitempty" yaml:"window,omitempty"` // for send
	Limit   int     `json:"limit,omitempty" yaml:"limit,omitempty"`   // segments to send, 0 for no limit
	Speed   float64 `json:"speed,omitempty" yaml:"speed,omitempty"`   // for setspeed
	Rate    float64 `json:"rate,omitempty" yaml:"rate,omitempty"`     // packets per second, for traffic
	Bits    int     `json:"bits,omitempty" yaml:"bits,omitempty"`     // payload length, for traffic
	Dist    string  `json:"dist,omitempty" yaml:"dist,omitempty"`     // inter-arrival distribution, for traffic
}

// ScenarioDesc is the complete description of one scenario
type ScenarioDesc struct {
	Name      string        `json:"name" yaml:"name"`
	Queue     QueueDesc     `json:"queue" yaml:"queue"`
	Routers   []RouterDesc  `json:"routers" yaml:"routers"`
	EndHosts  []EndHostDesc `json:"endhosts" yaml:"endhosts"`
	Links     []LinkDesc    `json:"links" yaml:"links"`
	FIBs      []FIBDesc     `json:"fibs" yaml:"fibs"`
	AutoRoute bool          `json:"autoroute" yaml:"autoroute"` // fill missing FIB entries with ComputeRoutes
	Events    []EventDesc   `json:"events" yaml:"events"`
}

// CreateScenarioDesc is a constructor
func CreateScenarioDesc(name string) *ScenarioDesc {
	sd := new(ScenarioDesc)
	sd.Name = name
	sd.Routers = make([]RouterDesc, 0)
	sd.EndHosts = make([]EndHostDesc, 0)
	sd.Links = make([]LinkDesc, 0)
	sd.FIBs = make([]FIBDesc, 0)
	sd.Events = make([]EventDesc, 0)
	return sd
}

// AddRouter appends a router description
func (sd *ScenarioDesc) AddRouter(name string) {
	sd.Routers = append(sd.Routers, RouterDesc{Name: name})
}

// AddEndHost appends an end host description
func (sd *ScenarioDesc) AddEndHost(name, firstHop string, capacity int, bandwidth, delay float64) {
	sd.EndHosts = append(sd.EndHosts, EndHostDesc{Name: name, FirstHop: firstHop, Capacity: capacity,
		Bandwidth: bandwidth, Delay: delay})
}

// AddLink appends a link description
func (sd *ScenarioDesc) AddLink(a, b string, bandwidth, delay float64, capacity int) {
	sd.Links = append(sd.Links, LinkDesc{A: a, B: b, Capacity: capacity, Bandwidth: bandwidth, Delay: delay})
}

// AddFIB appends a FIB entry
func (sd *ScenarioDesc) AddFIB(router, dst, nextHop string) {
	sd.FIBs = append(sd.FIBs, FIBDesc{Router: router, Dst: dst, NextHop: nextHop})
}

// AddEvent appends a timed event
func (sd *ScenarioDesc) AddEvent(evt EventDesc) {
	sd.Events = append(sd.Events, evt)
}

// Validate checks the description for every mistake BuildNetwork would
// trip on, and reports all of them in one error
func (sd *ScenarioDesc) Validate() error {
	errs := []error{}
	if _, err := QueueFactoryByName(sd.Queue.Policy, sd.Queue.RED); err != nil {
		errs = append(errs, err)
	}

	// node names, and the type recorded for each
	devType := make(map[string]devCode)
	addName := func(name string, code devCode) {
		if len(name) == 0 {
			errs = append(errs, fmt.Errorf("%s with empty name", devCodeToStr(code)))
			return
		}
		if _, present := devType[name]; present {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateNode, name))
			return
		}
		devType[name] = code
	}

	for _, rd := range sd.Routers {
		addName(rd.Name, routerCode)
	}

	// connections already described, by sorted name pair
	linked := make(map[[2]string]bool)
	addLink := func(a, b string) error {
		pair := [2]string{a, b}
		if b < a {
			pair = [2]string{b, a}
		}
		if a == b || linked[pair] {
			return fmt.Errorf("%w: %s and %s", ErrDuplicateLink, a, b)
		}
		linked[pair] = true
		return nil
	}

	// an end host's only link goes to its first hop, which is a router
	for _, hd := range sd.EndHosts {
		if code, present := devType[hd.FirstHop]; !present {
			errs = append(errs, fmt.Errorf("%w: first hop %s of %s", ErrUnknownNode, hd.FirstHop, hd.Name))
		} else if code != routerCode {
			errs = append(errs, fmt.Errorf("%w: first hop %s of %s is not a router", ErrWrongNodeType, hd.FirstHop, hd.Name))
		} else if err := addLink(hd.Name, hd.FirstHop); err != nil {
			errs = append(errs, err)
		}
		if err := checkLinkParams(hd.Capacity, hd.Bandwidth, hd.Delay); err != nil {
			errs = append(errs, fmt.Errorf("end host %s: %w", hd.Name, err))
		}
		addName(hd.Name, endHostCode)
	}

	for _, ld := range sd.Links {
		codeA, presentA := devType[ld.A]
		codeB, presentB := devType[ld.B]
		if !presentA || !presentB {
			errs = append(errs, fmt.Errorf("%w: in link %s-%s", ErrUnknownNode, ld.A, ld.B))
			continue
		}
		if codeA != routerCode || codeB != routerCode {
			errs = append(errs, fmt.Errorf("%w: link %s-%s touches an end host", ErrWrongNodeType, ld.A, ld.B))
			continue
		}
		if err := addLink(ld.A, ld.B); err != nil {
			errs = append(errs, err)
		}
		if err := checkLinkParams(ld.Capacity, ld.Bandwidth, ld.Delay); err != nil {
			errs = append(errs, fmt.Errorf("link %s-%s: %w", ld.A, ld.B, err))
		}
	}

	fibs := make(map[[2]string]bool)
	for _, fd := range sd.FIBs {
		code, present := devType[fd.Router]
		if !present || code != routerCode {
			errs = append(errs, fmt.Errorf("FIB entry at %s, which is not a router", fd.Router))
			continue
		}
		if _, present := devType[fd.NextHop]; !present {
			errs = append(errs, fmt.Errorf("%w: next hop %s at %s", ErrUnknownNode, fd.NextHop, fd.Router))
		}
		key := [2]string{fd.Router, fd.Dst}
		if fibs[key] {
			errs = append(errs, fmt.Errorf("%w: %s at %s", ErrDuplicateFIB, fd.Dst, fd.Router))
		}
		fibs[key] = true
	}

	isHost := func(name string) bool {
		code, present := devType[name]
		return present && code == endHostCode
	}
	ports := make(map[string]bool)
	usePort := func(host string, port int) {
		key := fmt.Sprintf("%s:%d", host, port)
		if ports[key] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrPortInUse, key))
		}
		ports[key] = true
	}

	for idx, ed := range sd.Events {
		if ed.Time < 0.0 {
			errs = append(errs, fmt.Errorf("event %d at negative time %v", idx, ed.Time))
		}
		switch ed.Op {
		case EventSend, EventSendTCP, EventTraffic:
			if !isHost(ed.Src) {
				errs = append(errs, fmt.Errorf("event %d: source %q is not an end host", idx, ed.Src))
			}
			if !isHost(ed.Dst) {
				errs = append(errs, fmt.Errorf("event %d: destination %q is not an end host", idx, ed.Dst))
			}
			if ed.Op == EventSend && ed.Window < 1 {
				errs = append(errs, fmt.Errorf("event %d: window %d must be positive", idx, ed.Window))
			}
			if ed.Op == EventTraffic {
				if !(ed.Rate > 0.0) {
					errs = append(errs, fmt.Errorf("event %d: rate %v not positive", idx, ed.Rate))
				}
				if ed.Bits < 0 {
					errs = append(errs, fmt.Errorf("event %d: negative payload length %d", idx, ed.Bits))
				}
				if _, err := arrivalSampler(ed.Dist); err != nil {
					errs = append(errs, fmt.Errorf("event %d: %w", idx, err))
				}
			}
			if ed.Limit < 0 {
				errs = append(errs, fmt.Errorf("event %d: negative limit %d", idx, ed.Limit))
			}
			usePort(ed.Src, ed.SrcPort)
			usePort(ed.Dst, ed.DstPort)
		case EventSetSpeed:
			if !(ed.Speed > 0.0) {
				errs = append(errs, fmt.Errorf("event %d: speed %v not positive", idx, ed.Speed))
			}
		default:
			errs = append(errs, fmt.Errorf("event %d: unknown op %q", idx, ed.Op))
		}
	}

	return ReportErrs(errs)
}

// BuildNetwork validates the description, then creates its network on
// evtMgr (a new one if nil) with tm (possibly nil) as trace manager, and
// schedules its events
func (sd *ScenarioDesc) BuildNetwork(evtMgr *EventManager, tm *TraceManager) (*Network, error) {
	if err := sd.Validate(); err != nil {
		return nil, err
	}
	factory, _ := QueueFactoryByName(sd.Queue.Policy, sd.Queue.RED)

	net := CreateNetwork(sd.Name, evtMgr)
	net.SetQueueFactory(factory)
	net.SetTraceManager(tm)

	for _, rd := range sd.Routers {
		if _, err := net.AddRouter(rd.Name); err != nil {
			return nil, err
		}
	}
	for _, hd := range sd.EndHosts {
		if _, err := net.AddEndHost(hd.Name, hd.FirstHop, hd.Capacity, hd.Bandwidth, hd.Delay); err != nil {
			return nil, err
		}
	}
	for _, ld := range sd.Links {
		if err := net.Link(ld.A, ld.B, ld.Bandwidth, ld.Delay, ld.Capacity); err != nil {
			return nil, err
		}
	}
	for _, fd := range sd.FIBs {
		if err := net.AddFIB(fd.Router, fd.Dst, fd.NextHop); err != nil {
			return nil, err
		}
	}
	if sd.AutoRoute {
		if err := net.ComputeRoutes(); err != nil {
			return nil, err
		}
	}

	// events are scheduled in time order, ties in the order listed
	events := slices.Clone(sd.Events)
	slices.SortStableFunc(events, func(a, b EventDesc) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		}
		return 0
	})

	for _, ed := range events {
		var err error
		switch ed.Op {
		case EventSend:
			_, err = net.StartWindowFlow(ed.Time, ed.Src, ed.SrcPort, ed.Dst, ed.DstPort, ed.Window, ed.Limit)
		case EventSendTCP:
			_, err = net.StartTCPFlow(ed.Time, ed.Src, ed.SrcPort, ed.Dst, ed.DstPort, ed.Limit)
		case EventTraffic:
			_, err = net.StartTrafficFlow(ed.Time, ed.Src, ed.SrcPort, ed.Dst, ed.DstPort, ed.Rate, ed.Bits, ed.Dist, ed.Limit)
		case EventSetSpeed:
			err = net.SetSpeed(ed.Time, ed.Speed)
		}
		if err != nil {
			return nil, err
		}
	}
	logger.Info("network built", "scenario", sd.Name, "nodes", len(net.order), "flows", len(net.flows))
	return net, nil
}

// Describe returns a description of the network's topology, FIBs and flows.
// The network does not record its queue policy or speed changes, so neither
// is described.
func (net *Network) Describe() *ScenarioDesc {
	sd := CreateScenarioDesc(net.Name)

	// the link from each end host to its first hop is part of the host's description
	hostLink := make(map[*Link]bool)
	for _, node := range net.order {
		switch dev := node.(type) {
		case *Router:
			sd.AddRouter(dev.Name())
		case *EndHost:
			link, present := dev.LinkTo(dev.FirstHop())
			if !present {
				continue
			}
			sd.AddEndHost(dev.Name(), dev.FirstHop().Name(), link.Queue().Capacity(), link.Bandwidth(), link.Delay())
			hostLink[link] = true
			back, _ := dev.FirstHop().LinkTo(dev)
			hostLink[back] = true
		}
	}

	for _, node := range net.order {
		for _, link := range node.Links() {
			if hostLink[link] || node.ID() > link.To().ID() {
				continue
			}
			sd.AddLink(node.Name(), link.To().Name(), link.Bandwidth(), link.Delay(), link.Queue().Capacity())
		}
	}

	for _, node := range net.order {
		router, isRouter := node.(*Router)
		if !isRouter {
			continue
		}
		fib := router.FIB()
		for _, dst := range router.Destinations() {
			sd.AddFIB(router.Name(), dst, fib[dst])
		}
	}

	for _, flow := range net.flows {
		ed := EventDesc{Time: flow.Start, Src: flow.Src, SrcPort: flow.SrcPort, Dst: flow.Dst, DstPort: flow.DstPort,
			Limit: flow.Limit}
		switch flow.Kind {
		case WindowFlow:
			ed.Op = EventSend
			ed.Window = flow.Window
		case TCPFlow:
			ed.Op = EventSendTCP
		case TrafficFlow:
			ed.Op = EventTraffic
			ed.Rate = flow.Rate
			ed.Bits = flow.Bits
			ed.Dist = flow.Dist
		}
		sd.AddEvent(ed)
	}
	return sd
}

// WriteToFile serializes the ScenarioDesc and writes to the file whose name is given as an input argument.
// Extension of the file name selects whether serialization is to json or to yaml format.
func (sd *ScenarioDesc) WriteToFile(filename string) error {
	return writeDescFile(filename, *sd)
}

// ReadScenarioDesc deserializes a slice of bytes into a ScenarioDesc.  If the input arg of bytes
// is empty, the file whose name is given as an argument is read.
func ReadScenarioDesc(filename string, useYAML bool, dict []byte) (*ScenarioDesc, error) {
	dict, err := readDescBytes(filename, dict)
	if err != nil {
		return nil, err
	}
	example := ScenarioDesc{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", filename, err)
	}
	return &example, nil
}

// ScenarioDict holds a number of scenarios, indexed by name
type ScenarioDict struct {
	DictName string                  `json:"dictname" yaml:"dictname"`
	Dict     map[string]ScenarioDesc `json:"dict" yaml:"dict"`
}

// CreateScenarioDict is a constructor
func CreateScenarioDict(name string) *ScenarioDict {
	sdd := new(ScenarioDict)
	sdd.DictName = name
	sdd.Dict = make(map[string]ScenarioDesc)
	return sdd
}

// AddScenario adds a scenario to the dictionary, replacing one with the same name only if overwrite is set
func (sdd *ScenarioDict) AddScenario(sd *ScenarioDesc, overwrite bool) error {
	_, present := sdd.Dict[sd.Name]
	if present && !overwrite {
		return fmt.Errorf("attempt to overwrite scenario %s in dictionary %s", sd.Name, sdd.DictName)
	}
	sdd.Dict[sd.Name] = *sd
	return nil
}

// RecoverScenario returns a copy of the scenario with the given name
func (sdd *ScenarioDict) RecoverScenario(name string) (*ScenarioDesc, bool) {
	sd, present := sdd.Dict[name]
	if !present {
		return nil, false
	}
	return &sd, true
}

// Names returns the scenario names, sorted
func (sdd *ScenarioDict) Names() []string {
	names := make([]string, 0, len(sdd.Dict))
	for name := range sdd.Dict {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// WriteToFile serializes the ScenarioDict, as YAML or JSON by the extension of filename
func (sdd *ScenarioDict) WriteToFile(filename string) error {
	return writeDescFile(filename, *sdd)
}

// ReadScenarioDict deserializes a ScenarioDict from dict, or from the named file if dict is empty
func ReadScenarioDict(filename string, useYAML bool, dict []byte) (*ScenarioDict, error) {
	dict, err := readDescBytes(filename, dict)
	if err != nil {
		return nil, err
	}
	example := ScenarioDict{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, fmt.Errorf("scenario dictionary %s: %w", filename, err)
	}
	return &example, nil
}

// IsYAMLFile is true when the extension of filename names YAML
func IsYAMLFile(filename string) bool {
	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		return true
	}
	return false
}

// writeDescFile serializes obj to filename, as YAML or JSON by its extension
func writeDescFile(filename string, obj any) error {
	var bytes []byte
	var merr error

	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(obj)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(obj, "", "\t")
	default:
		return fmt.Errorf("output file %s needs a .yaml or .json extension", filename)
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0o644)
}

// readDescBytes returns dict, or when it is empty the contents of filename
func readDescBytes(filename string, dict []byte) ([]byte, error) {
	if len(dict) > 0 {
		return dict, nil
	}
	fileInfo, err := os.Stat(filename)
	if err != nil || fileInfo.IsDir() {
		return nil, fmt.Errorf("description %s does not exist or cannot be read", filename)
	}
	return os.ReadFile(filename)
}

// aggregateError holds the errors reported together by ReportErrs
type aggregateError []error

func (ae aggregateError) Error() string {
	msgs := make([]string, 0, len(ae))
	for _, err := range ae {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, ",")
}

func (ae aggregateError) Unwrap() []error {
	return ae
}

// ReportErrs transforms a list of errors into one error whose message joins
// theirs with commas, or nil if the list holds no non-nil error.  errors.Is
// and errors.As see every error in the list.
func ReportErrs(errs []error) error {
	kept := make(aggregateError, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

// CheckReadableFiles probes the file system to ensure that every
// one of the argument filenames exists and is readable
func CheckReadableFiles(names []string) (bool, error) {
	return CheckFiles(names, true)
}

// CheckOutputFiles probes the file system to ensure that the directory of
// every argument filename exists, so the file can be written
func CheckOutputFiles(names []string) (bool, error) {
	return CheckFiles(names, false)
}

// CheckFiles probes the file system for the directory of every argument
// filename, optionally checking also for the existence of the files
// themselves, for the purposes of reading them.
func CheckFiles(names []string, checkExistence bool) (bool, error) {
	errs := make([]error, 0)

	for _, name := range names {
		// skip empty names
		if len(name) == 0 {
			continue
		}

		directory, _ := filepath.Split(name)
		if len(directory) == 0 {
			directory = "."
		}
		if _, err := os.Stat(directory); err != nil {
			errs = append(errs, err)
			continue
		}
		if checkExistence {
			if _, err := os.Stat(name); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) == 0 {
		return true, nil
	}
	return false, ReportErrs(errs)
}

// errNoScenario is returned by LoadScenario for a dictionary without the requested scenario
var errNoScenario = errors.New("scenario not in dictionary")

// LoadScenario reads a scenario from filename.  If the file holds a
// ScenarioDict, name selects the scenario (the only one, when name is empty
// and the dictionary holds exactly one).
func LoadScenario(filename, name string) (*ScenarioDesc, error) {
	if _, err := CheckReadableFiles([]string{filename}); err != nil {
		return nil, err
	}
	dict, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	useYAML := IsYAMLFile(filename)

	// a dictionary has a non-empty "dict" member
	sdd, err := ReadScenarioDict(filename, useYAML, dict)
	if err == nil && len(sdd.Dict) > 0 {
		names := sdd.Names()
		if len(name) == 0 && len(names) == 1 {
			name = names[0]
		}
		sd, present := sdd.RecoverScenario(name)
		if !present {
			return nil, fmt.Errorf("%w: %q in %s (has %s)", errNoScenario, name, filename, strings.Join(names, ","))
		}
		return sd, nil
	}
	return ReadScenarioDesc(filename, useYAML, dict)
}
