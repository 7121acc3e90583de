package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/iti/pktsim"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeScenario(t *testing.T, dir string) string {
	sd := pktsim.CreateScenarioDesc("cli")
	sd.AddRouter("r1")
	sd.AddRouter("r2")
	sd.AddEndHost("a", "r1", 20, 1.0e7, 0.001)
	sd.AddEndHost("b", "r2", 20, 1.0e7, 0.001)
	sd.AddLink("r1", "r2", 1.0e6, 0.005, 20)
	sd.AddEvent(pktsim.EventDesc{Time: 0.0, Op: pktsim.EventSend, Src: "a", SrcPort: 1, Dst: "b", DstPort: 2,
		Window: 2, Limit: 10})
	filename := filepath.Join(dir, "cli.yaml")
	require.NoError(t, sd.WriteToFile(filename))
	return filename
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	CmdPktsim.SetOut(&out)
	CmdPktsim.SetErr(&out)
	CmdPktsim.SetArgs(args)
	err := CmdPktsim.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	scenario := writeScenario(t, dir)

	out, err := execute("validate", scenario)
	require.NoError(t, err)
	require.Contains(t, out, "scenario cli: 2 routers, 2 end hosts, 1 links, 1 events")

	// without FIB entries the scenario cannot route, so fill them in first
	routed := filepath.Join(dir, "routed.json")
	_, err = execute("routes", scenario, "-o", routed)
	require.NoError(t, err)
	sd, err := pktsim.LoadScenario(routed, "")
	require.NoError(t, err)
	require.Len(t, sd.FIBs, 4)
	require.Len(t, sd.Events, 1)

	out, err = execute("run", routed, "--log-level", "error")
	require.NoError(t, err)
	var sum pktsim.Summary
	require.NoError(t, yaml.Unmarshal([]byte(out), &sum))
	require.Len(t, sum.Flows, 1)
	require.Equal(t, 10, sum.Flows[0].Delivered)

	_, err = execute("run", filepath.Join(dir, "absent.yaml"))
	require.Error(t, err)
	_, err = execute("validate", scenario, "--log-level", "loud")
	require.Error(t, err)
}
