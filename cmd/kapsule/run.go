package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/frostyard/kapsule/internal/config"
	"github.com/frostyard/kapsule/internal/containers"
	"github.com/frostyard/kapsule/internal/facade"
	"github.com/frostyard/kapsule/internal/incus"
	"github.com/frostyard/kapsule/internal/logging"
	"github.com/frostyard/kapsule/internal/ptyxis"
)

// newRunCommand builds the foreground-daemon subcommand: construct the
// Backend Client, Container Service, and Facade, own the bus name, and
// block until SIGINT/SIGTERM, mirroring AdaptCmd's signal-to-cancel wiring
// in cmd/compose/compose.go.
func newRunCommand(debug *bool) *cobra.Command {
	var socket string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the kapsule daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Setup(*debug)

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			registrar, err := ptyxis.Connect()
			if err != nil {
				registrar = ptyxis.NoOp{}
			}

			backend := incus.New(socket)
			svc := containers.New(backend, registrar)

			f := facade.New(svc, cfg)
			if err := f.Connect(); err != nil {
				return err
			}
			defer f.Close()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			return nil
		},
	}
	cmd.Flags().StringVar(&socket, "socket", "", "path to the Incus unix socket (defaults to the standard location)")
	return cmd
}
