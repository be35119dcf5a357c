// Command snmptrapd runs the SNMP trap/inform receiver: it loads the YAML
// configuration, binds the configured listening sockets, and dispatches
// received datagrams through the parse worker pool until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/snmpworks/trapd/internal/cache"
	"github.com/snmpworks/trapd/internal/config"
	"github.com/snmpworks/trapd/internal/listener"
	"github.com/snmpworks/trapd/internal/message"
	"github.com/snmpworks/trapd/internal/snmplog"
	"github.com/snmpworks/trapd/internal/worker"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:           "snmptrapd",
		Short:         "Accept and authenticate SNMP traps and informs",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	_ = cmd.MarkFlagRequired("config")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := snmplog.New(settings.Logger.Level, settings.Logger.Format)

	caches := &message.Caches{
		Key:    cache.NewKeyCache(),
		Engine: cache.NewEngineCache(),
	}

	listeners := make([]*listener.Listener, len(settings.Snmptrapd.Listening))
	for i, addr := range settings.Snmptrapd.Listening {
		l, err := listener.Listen(i, addr)
		if err != nil {
			return err
		}
		listeners[i] = l
	}

	workers := worker.New(settings, caches, len(listeners), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var listenerGroup errgroup.Group
	for i, l := range listeners {
		l, idx := l, i
		listenerGroup.Go(func() error {
			return l.Run(ctx, workers.Ingress(), workers.Egress(idx), log)
		})
	}

	workerErr := make(chan error, 1)
	go func() { workerErr <- workers.Run(ctx) }()

	runErr := listenerGroup.Wait()
	log.Debug().Msg("listeners stopped, draining worker pool")
	workers.Close()
	if werr := <-workerErr; werr != nil && runErr == nil {
		runErr = werr
	}
	return runErr
}
