package pktsim

// trace.go holds the TraceManager, which gathers a record of what happened
// to packets and protocols during a run, for analysis after the run.
// Gathering does not influence the simulation.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"github.com/iti/evt/vrtime"
	"gopkg.in/yaml.v3"
)

// operation labels used in trace records
const (
	OpEnqueue      = "enqueue"      // packet placed in a link queue
	OpDrop         = "drop"         // packet thrown away by a link queue
	OpNoLink       = "nolink"       // packet sent toward a node with no link to it
	OpDeliver      = "deliver"      // packet arrived at the far end of a link
	OpSend         = "send"         // sender transmitted a new segment
	OpResend       = "resend"       // sender retransmitted a segment
	OpAck          = "ack"          // sender received an acknowledgment
	OpSendAck      = "sendack"      // acker transmitted an acknowledgment
	OpWindow       = "window"       // congestion window after an acknowledgment
	OpFastRecovery = "fastrecovery" // window inflated during fast recovery
)

// NameType is a an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TraceRecord saves information about one step of the simulation
type TraceRecord struct {
	Time        float64 `json:"time" yaml:"time"`                                   // time in float64
	Ticks       int64   `json:"ticks" yaml:"ticks"`                                 // ticks variable of time
	Op          string  `json:"op" yaml:"op"`                                       // one of the Op labels
	ObjID       int     `json:"objid" yaml:"objid"`                                 // id of the node or link recording
	Flow        string  `json:"flow,omitempty" yaml:"flow,omitempty"`               // "src:port->dst:port" of the packet or protocol
	SegID       int     `json:"segid" yaml:"segid"`                                 // segment carried, or acknowledged
	Window      float64 `json:"window,omitempty" yaml:"window,omitempty"`           // congestion window, for protocol records
	Outstanding int     `json:"outstanding,omitempty" yaml:"outstanding,omitempty"` // unacknowledged segments, for protocol records
}

// TraceManager gathers trace records of an experiment, indexed by the id of
// the object that made them.  A nil or inactive TraceManager ignores every call,
// so model code can call its methods unconditionally.
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// all trace records for this experiment
	Traces map[int][]TraceRecord `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[int][]TraceRecord)
	return tm
}

// Active tells the caller whether the TraceManager is actively being used
func (tm *TraceManager) Active() bool {
	return tm != nil && tm.InUse
}

// AddName is used to add an element to the id -> (name,type) dictionary for the trace file
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if !tm.Active() {
		return
	}
	_, present := tm.NameByID[id]
	if present {
		panic(fmt.Errorf("duplicated id %d in AddName", id))
	}
	tm.NameByID[id] = NameType{Name: name, Type: objDesc}
}

// AddTrace stamps the record with the time and stores it under its ObjID
func (tm *TraceManager) AddTrace(vrt vrtime.Time, rec TraceRecord) {
	if !tm.Active() {
		return
	}
	rec.Time = vrt.Seconds()
	rec.Ticks = vrt.Ticks()
	tm.Traces[rec.ObjID] = append(tm.Traces[rec.ObjID], rec)
}

// Records returns the trace records made by the object with the given id
func (tm *TraceManager) Records(objID int) []TraceRecord {
	if !tm.Active() {
		return nil
	}
	return tm.Traces[objID]
}

// CountOp returns the number of records, over all objects, with the given op
func (tm *TraceManager) CountOp(op string) int {
	if !tm.Active() {
		return 0
	}
	cnt := 0
	for _, recs := range tm.Traces {
		for _, rec := range recs {
			if rec.Op == op {
				cnt += 1
			}
		}
	}
	return cnt
}

// WriteToFile stores the TraceManager to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.Active() {
		return nil
	}
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	switch pathExt {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(*tm)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(*tm, "", "\t")
	default:
		return fmt.Errorf("trace file %s needs a .yaml or .json extension", filename)
	}
	if merr != nil {
		return merr
	}

	return os.WriteFile(filename, bytes, 0o644)
}

// ReadTraceFile deserializes a TraceManager written by WriteToFile
func ReadTraceFile(filename string) (*TraceManager, error) {
	bytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	tm := CreateTraceManager("", true)
	switch path.Ext(filename) {
	case ".json", ".JSON":
		err = json.Unmarshal(bytes, tm)
	default:
		err = yaml.Unmarshal(bytes, tm)
	}
	if err != nil {
		return nil, err
	}
	return tm, nil
}
