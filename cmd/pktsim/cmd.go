package main

import (
	"fmt"
	"os"

	"github.com/iti/pktsim"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// flags shared by the subcommands
var (
	scenarioName string
	traceFile    string
	runUntil     float64
	logLevel     string
	outFile      string
)

var CmdPktsim = &cobra.Command{
	Use:   "pktsim",
	Short: "Discrete-event packet network simulator",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := pktsim.ParseLogLevel(logLevel)
		if err != nil {
			return err
		}
		pktsim.SetLogLevel(level)
		return nil
	},
	SilenceUsage: true,
}

var cmdRun = &cobra.Command{
	Use:   "run SCENARIO-FILE",
	Short: "Run a scenario and print a summary of its flows and links",
	Args:  cobra.ExactArgs(1),
	RunE:  run,
}

var cmdValidate = &cobra.Command{
	Use:   "validate SCENARIO-FILE",
	Short: "Check a scenario description without running it",
	Args:  cobra.ExactArgs(1),
	RunE:  validate,
}

var cmdRoutes = &cobra.Command{
	Use:   "routes SCENARIO-FILE",
	Short: "Fill in shortest-path FIB entries and write the resulting scenario",
	Args:  cobra.ExactArgs(1),
	RunE:  routes,
}

func init() {
	CmdPktsim.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Lowest log level written (debug, info, warn, error)")
	CmdPktsim.PersistentFlags().StringVar(&scenarioName, "name", "", "Scenario to select from a scenario dictionary")

	cmdRun.Flags().StringVar(&traceFile, "trace", "", "Write a trace to this .yaml or .json file")
	cmdRun.Flags().Float64Var(&runUntil, "until", 0.0, "Stop at this simulation time (seconds); 0 runs to completion")

	cmdRoutes.Flags().StringVarP(&outFile, "out", "o", "", "Write the routed scenario to this .yaml or .json file (default stdout as YAML)")

	CmdPktsim.AddCommand(cmdRun, cmdValidate, cmdRoutes)
}

func run(cmd *cobra.Command, args []string) error {
	syn := map[string]string{
		pktsim.ScenarioFileKey: args[0],
		pktsim.ScenarioNameKey: scenarioName,
		pktsim.TraceFileKey:    traceFile,
	}
	exp, err := pktsim.BuildExperiment(syn)
	if err != nil {
		pktsim.Logger().Error("cannot build experiment", "scenario", args[0], "err", err)
		return err
	}

	done, err := exp.Run(runUntil)
	if err != nil {
		pktsim.Logger().Error("cannot write trace", "file", traceFile, "err", err)
		return err
	}
	if !done {
		pktsim.Logger().Info("stopped with events pending", "time", exp.Network.Now())
	}
	return printYAML(cmd, exp.Network.Summarize())
}

func validate(cmd *cobra.Command, args []string) error {
	sd, err := pktsim.LoadScenario(args[0], scenarioName)
	if err != nil {
		return err
	}
	if err := sd.Validate(); err != nil {
		pktsim.Logger().Error("invalid scenario", "scenario", sd.Name, "err", err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "scenario %s: %d routers, %d end hosts, %d links, %d events\n",
		sd.Name, len(sd.Routers), len(sd.EndHosts), len(sd.Links), len(sd.Events))
	return nil
}

func routes(cmd *cobra.Command, args []string) error {
	sd, err := pktsim.LoadScenario(args[0], scenarioName)
	if err != nil {
		return err
	}
	sd.AutoRoute = false
	net, err := sd.BuildNetwork(nil, nil)
	if err != nil {
		return err
	}
	if err := net.ComputeRoutes(); err != nil {
		pktsim.Logger().Warn("some destinations are unreachable", "err", err)
	}

	routed := net.Describe()
	routed.Queue = sd.Queue
	routed.Events = sd.Events
	if len(outFile) > 0 {
		return routed.WriteToFile(outFile)
	}
	return printYAML(cmd, routed)
}

func printYAML(cmd *cobra.Command, obj any) error {
	bytes, err := yaml.Marshal(obj)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(bytes)
	return err
}

func main() {
	if err := CmdPktsim.Execute(); err != nil {
		os.Exit(1)
	}
}
