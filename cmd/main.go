/*
Copyright 2024 QZD Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/qzd-finance/qzd"
	"github.com/qzd-finance/qzd/config"
	"github.com/qzd-finance/qzd/internal/notification"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// Qzd represents the CLI application, encapsulating the root Cobra command.
type Qzd struct {
	cmd *cobra.Command
}

// qzdInstance holds the service and its configuration for the commands that need them.
type qzdInstance struct {
	qzd *qzd.Qzd
	cnf *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the service before any command that needs it.
func preRun(app *qzdInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		q, err := qzd.NewQzd(cnf)
		if err != nil {
			notification.NotifyError(err)
			return fmt.Errorf("error creating qzd: %w", err)
		}

		app.qzd = q
		app.cnf = cnf
		return nil
	}
}

// NewCLI creates the command-line interface with the server, workers, keys and config commands.
func NewCLI() *Qzd {
	var configFile string
	app := &qzdInstance{}

	rootCmd := &cobra.Command{
		Use:   "qzd",
		Short: "QZD digital currency ledger",
		Run:   func(cmd *cobra.Command, args []string) {},
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./qzd.json", "Configuration file for qzd")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(configCommands(app))
	rootCmd.AddCommand(keyCommands())

	return &Qzd{cmd: rootCmd}
}

func (w Qzd) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
