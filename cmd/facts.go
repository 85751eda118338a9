package main

import (
	"encoding/json"
	"strings"

	"github.com/httprunner/bizlogic/internal/providers/adb"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var defaultFactProperties = []string{
	"ro.product.manufacturer",
	"ro.product.brand",
	"ro.product.model",
	"ro.build.fingerprint",
	"ro.build.version.release",
}

type deviceFactsDump struct {
	Serial      string            `json:"serial"`
	Properties  map[string]string `json:"properties"`
	Features    []string          `json:"features"`
	Packages    []string          `json:"packages"`
	TotalMemory int64             `json:"total_memory"`
}

func newFactsCmd() *cobra.Command {
	var (
		flagSerial     string
		flagProperties []string
	)

	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Dump the device facts used to build requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			serial := strings.TrimSpace(flagSerial)
			if serial == "" {
				return errors.New("--serial is required")
			}
			provider, err := adb.NewDefault()
			if err != nil {
				return err
			}
			dev, err := provider.Device(serial)
			if err != nil {
				return err
			}
			dump := deviceFactsDump{Serial: serial, Properties: map[string]string{}}
			for _, name := range flagProperties {
				value, ok, err := dev.Property(name)
				if err != nil {
					return err
				}
				if ok {
					dump.Properties[name] = value
				}
			}
			if dump.Features, err = dev.Features(); err != nil {
				return err
			}
			if dump.Packages, err = dev.InstalledPackages(); err != nil {
				return err
			}
			if dump.TotalMemory, err = dev.TotalMemory(); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(dump)
		},
	}

	cmd.Flags().StringVar(&flagSerial, "serial", "", "Device serial")
	cmd.Flags().StringSliceVar(&flagProperties, "prop", defaultFactProperties, "System properties to include")
	return cmd
}
