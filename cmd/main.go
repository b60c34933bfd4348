/*
Copyright 2024 Commune Authors.

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
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/communehq/commune"
	"github.com/communehq/commune/config"
	"github.com/communehq/commune/database"
)

// communeInstance holds the service instance and its configuration for use
// by the subcommands.
type communeInstance struct {
	commune *commune.Commune
	cnf     *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and wires the service before any command
// executes.
func preRun(app *communeInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("commune.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		svc, err := setupCommune(cnf)
		if err != nil {
			log.Fatal(err)
		}

		app.commune = svc
		app.cnf = cnf
		return nil
	}
}

func setupCommune(cfg *config.Configuration) (*commune.Commune, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	svc, err := commune.NewCommune(db)
	if err != nil {
		return nil, fmt.Errorf("error creating commune: %v", err)
	}
	return svc, nil
}

func newCLI() *cobra.Command {
	var configFile string
	app := &communeInstance{}

	var rootCmd = &cobra.Command{
		Use:   "commune",
		Short: "Commune point ledger and outbox relay",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./commune.json", "Configuration file for commune")
	rootCmd.PersistentPreRunE = preRun(app)

	rootCmd.AddCommand(relayCommands(app))
	rootCmd.AddCommand(migrateCommands(app))

	return rootCmd
}

func main() {
	defer recoverPanic()

	if err := newCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
