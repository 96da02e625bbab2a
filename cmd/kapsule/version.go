package main

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/frostyard/kapsule/internal/facade"
)

// newVersionCommand is the one front-end-shaped piece of code kept
// in-repo per SPEC_FULL.md §6: a thin smoke-test client that dials the bus
// and reads the Manager's Version property, standing in for the real
// desktop front ends this daemon serves.
func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the running daemon's version",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dbus.ConnectSystemBus()
			if err != nil {
				return err
			}
			defer conn.Close()

			obj := conn.Object(facade.BusName, facade.ManagerPath)
			variant, err := obj.GetProperty(facade.ManagerIface + ".Version")
			if err != nil {
				return err
			}
			fmt.Println(variant.Value())
			return nil
		},
	}
}
