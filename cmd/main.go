/*
Copyright 2024 Blnk Finance Authors.

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

	"github.com/blnkfinance/churnguard"
	"github.com/blnkfinance/churnguard/config"
	"github.com/blnkfinance/churnguard/database"
	"github.com/blnkfinance/churnguard/internal/notification"
)

// ChurnGuardCLI wraps the root cobra command.
type ChurnGuardCLI struct {
	cmd *cobra.Command
}

// churnguardInstance carries the wired services and configuration shared by
// every subcommand.
type churnguardInstance struct {
	services *churnguard.Services
	cnf      *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

func preRun(app *churnguardInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			logrus.Fatalf("error loading config: %v", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf

		// migrate and config only need the configuration.
		if cmd.Name() != "start" && cmd.Name() != "workers" {
			return nil
		}

		services, err := setupServices(cnf)
		if err != nil {
			notification.NotifyError(err)
			logrus.Fatal(err)
		}
		app.services = services
		return nil
	}
}

// setupServices connects the optional Postgres store and builds the engine.
func setupServices(cnf *config.Configuration) (*churnguard.Services, error) {
	var db database.IDataSource
	if cnf.DataSource.Dns != "" {
		ds, err := database.NewDataSource(cnf)
		if err != nil {
			return nil, fmt.Errorf("error getting datasource: %v", err)
		}
		db = ds
	} else {
		logrus.Warn("no data source configured, interventions will only be kept in memory")
	}

	services, err := churnguard.NewServices(cnf, db)
	if err != nil {
		return nil, fmt.Errorf("error creating churnguard: %v", err)
	}
	return services, nil
}

func NewCLI() *ChurnGuardCLI {
	var configFile string
	app := &churnguardInstance{}

	rootCmd := &cobra.Command{
		Use:   "churnguard",
		Short: "Churn risk monitoring and intervention engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./churnguard.json", "Configuration file for churnguard")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(configCommands(app))

	return &ChurnGuardCLI{cmd: rootCmd}
}

func (c ChurnGuardCLI) executeCLI() {
	if err := c.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
