// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// mkfs.toyfs writes a toyfs file system image onto a device.
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jacobsa/toyfs/format"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	fSize  int64
	fForce bool
)

var rootCmd = &cobra.Command{
	Use:   "mkfs.toyfs <device> <uuid>",
	Short: "Write a toyfs file system image onto a device",
	Args:  cobra.ExactArgs(2),

	SilenceUsage:  true,
	SilenceErrors: true,

	RunE: func(cmd *cobra.Command, args []string) error {
		device := args[0]

		devUUID, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("bad uuid %q: %w", args[1], err)
		}

		t, err := format.Format(device, devUUID, &format.Options{
			Size:  fSize,
			Force: fForce,
		})
		if err != nil {
			return err
		}

		logrus.WithFields(logrus.Fields{
			"device": device,
			"uuid":   t.UUID,
			"blocks": t.T1Blocks,
		}).Info("formatted")

		return nil
	},
}

func init() {
	rootCmd.Flags().Int64Var(
		&fSize,
		"size",
		0,
		"Preallocate a regular-file device to this many bytes before formatting.")

	rootCmd.Flags().BoolVar(
		&fForce,
		"force",
		false,
		"Format even if the device already contains a file system.")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
