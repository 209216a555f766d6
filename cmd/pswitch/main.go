// Command pswitch runs the data-plane core standalone: it loads a switch
// config, wires up the bundled reference forwarding program, and starts
// the ingress/egress/transmit workers plus the control surface. Grounded
// on the teacher's cmd/fbforward CLI shape (run/check/help/version
// subcommands).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NodePath81/pswitch/internal/app"
	"github.com/NodePath81/pswitch/internal/config"
	"github.com/NodePath81/pswitch/internal/control"
	"github.com/NodePath81/pswitch/internal/matchtable"
	"github.com/NodePath81/pswitch/internal/program"
	"github.com/NodePath81/pswitch/internal/refprogram"
	"github.com/NodePath81/pswitch/internal/tablehook"
	"github.com/NodePath81/pswitch/internal/util"
	"github.com/NodePath81/pswitch/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			runCmd := flag.NewFlagSet("run", flag.ExitOnError)
			configPath := runCmd.String("config", "config.yaml", "Path to config file")
			_ = runCmd.Parse(os.Args[2:])
			if *configPath == "config.yaml" && runCmd.NArg() > 0 {
				*configPath = runCmd.Arg(0)
			}
			runSwitch(*configPath)
			return
		case "check":
			checkCmd := flag.NewFlagSet("check", flag.ExitOnError)
			configPath := checkCmd.String("config", "config.yaml", "Path to config file")
			_ = checkCmd.Parse(os.Args[2:])
			if *configPath == "config.yaml" && checkCmd.NArg() > 0 {
				*configPath = checkCmd.Arg(0)
			}
			checkConfig(*configPath)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		case "version", "-v", "--version":
			fmt.Println(version.Version)
			return
		}
	}

	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()
	if *configPath == "config.yaml" && len(flag.Args()) > 0 {
		*configPath = flag.Arg(0)
	}
	runSwitch(*configPath)
}

func runSwitch(configPath string) {
	logger := util.NewLogger()
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	prog := &program.Program{
		Parser:          refprogram.Parser{},
		IngressPipeline: refprogram.IngressPipeline{Table: refprogram.NewForwardingTable()},
		EgressPipeline:  refprogram.EgressPipeline{},
		Deparser:        refprogram.Deparser{},
		FieldLists:      refprogram.DefaultFieldListRegistry(),
	}

	deps := app.Deps{
		Program:   prog,
		FieldDefs: refprogram.FieldDefs(),
	}

	if cfg.TableUpdateHook.Enabled {
		store, err := matchtable.Open(cfg.TableUpdateHook.SQLiteDSN)
		if err != nil {
			logger.Error("table-update hook startup failed", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		th := &tablehook.Hook{Runtime: store, Logger: logger}
		deps.TableHook = th.Apply
	}

	sw := app.NewSwitch(cfg, logger, deps)
	sw.StartAndReturn()
	defer sw.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctrl := control.NewServer(cfg.Control, cfg.Hostname, sw, logger)
	if err := ctrl.Start(ctx); err != nil {
		logger.Error("control server startup failed", "error", err)
		os.Exit(1)
	}

	logger.Info("switch started", "hostname", cfg.Hostname, "ports", len(cfg.Ports))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")
}

func checkConfig(path string) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("config valid: %d ports, %d egress threads\n", len(cfg.Ports), cfg.NbEgressThreads)
	os.Exit(0)
}

func printHelp() {
	fmt.Print(`pswitch - programmable switch data-plane core

Usage:
  pswitch run --config <path>   Start the switch
  pswitch check --config <path> Validate config file
  pswitch help                  Show this help
  pswitch version                Print version

Legacy:
  pswitch --config <path>
  pswitch <config-path>
`)
}
