// Command gmexec is the CLI entry point: assemble a motion script and
// run it against a chain of axis controllers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/USCRPL/GeckoMoped/gmasm"
	"github.com/USCRPL/GeckoMoped/gmconfig"
	"github.com/USCRPL/GeckoMoped/gmdrv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	port          string
	logfile       string
	simulate      bool
	cfgPath       string
	globalCfgPath string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gmexec [flags] script",
		Short: "Assemble and run a GeckoMoped motion script against an axis controller chain",
		Args:  cobra.ExactArgs(1),
		RunE:  runExec,
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "serial port to connect on (required unless --simulate)")
	cmd.Flags().StringVarP(&logfile, "logfile", "l", "", "write structured logs to this file instead of stderr")
	cmd.Flags().BoolVarP(&simulate, "simulate", "s", false, "run against an in-memory dummy transport instead of real hardware")
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to a gmconfig TOML project file")
	cmd.Flags().StringVar(&globalCfgPath, "global-config", "", "path to a gmconfig TOML global-preferences file")
	return cmd
}

func runExec(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	if logfile != "" {
		f, err := os.OpenFile(logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("gmexec: open logfile: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	global := gmconfig.DefaultGlobal()
	if globalCfgPath != "" {
		loaded, err := gmconfig.LoadGlobal(globalCfgPath)
		if err != nil {
			return fmt.Errorf("gmexec: load global config: %w", err)
		}
		global = loaded
	}
	proj := gmconfig.DefaultProject()
	if cfgPath != "" {
		loaded, err := gmconfig.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("gmexec: load config: %w", err)
		}
		proj = loaded
	}
	cfg := proj.Effective(global)

	drv := gmdrv.New(gmasm.OSFileOpener{}, cfg)

	connectPort := port
	if port == "" {
		connectPort = cfg.DefaultPort
	}
	if simulate {
		connectPort = ""
	} else if connectPort == "" {
		return fmt.Errorf("gmexec: --port is required unless --simulate is set or the config names a default port")
	}
	if err := drv.Connect(connectPort); err != nil {
		return fmt.Errorf("gmexec: connect: %w", err)
	}
	defer drv.Shutdown()

	if err := drv.LoadProgram(args[0]); err != nil {
		return fmt.Errorf("gmexec: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn("gmexec: interrupt received, estopping")
		drv.EStop()
		drv.Stop()
		os.Exit(1)
	}()

	if err := drv.Run(); err != nil {
		return fmt.Errorf("gmexec: run: %w", err)
	}
	if err := drv.WaitForProgram(context.Background()); err != nil {
		return fmt.Errorf("gmexec: wait: %w", err)
	}
	log.Info("gmexec: program complete")
	return nil
}
