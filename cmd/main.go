/*
Copyright 2026 Herald Authors.

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

	"github.com/heraldhq/herald"
	"github.com/heraldhq/herald/config"
	"github.com/heraldhq/herald/database"
	"github.com/heraldhq/herald/events"
	"github.com/heraldhq/herald/internal/notification"
	"github.com/heraldhq/herald/providers"
)

// Herald represents the CLI application, encapsulating the root Cobra command.
type Herald struct {
	cmd *cobra.Command
}

// heraldInstance holds the runtime Herald engine and its configuration,
// shared by the server, workers and migrate commands.
type heraldInstance struct {
	herald *herald.Herald
	cnf    *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the Herald engine before any
// subcommand runs.
func preRun(app *heraldInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newHerald, err := setupHerald(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.herald = newHerald
		app.cnf = cnf

		return nil
	}
}

// setupHerald wires the datasource and the registries into a Herald engine.
// The built-in webhook provider is always registered; plugins extend the
// registries when Herald is embedded as a library.
func setupHerald(cfg *config.Configuration) (*herald.Herald, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	eventRegistry := events.NewRegistry()
	providerRegistry := providers.NewRegistry()
	core := providers.PluginMeta{ID: "core", Name: "Core"}
	if _, err := providerRegistry.Register(providers.NewWebhookProvider(), core); err != nil {
		return nil, fmt.Errorf("error registering webhook provider: %v", err)
	}

	newHerald, err := herald.NewHerald(db, eventRegistry, providerRegistry)
	if err != nil {
		return nil, fmt.Errorf("error creating herald: %v", err)
	}
	return newHerald, nil
}

// NewCLI builds the command-line interface with the server, workers and
// migrate subcommands.
func NewCLI() *Herald {
	var configFile string
	h := &heraldInstance{}

	var rootCmd = &cobra.Command{
		Use:   "herald",
		Short: "Event delivery service",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./herald.json", "Configuration file for herald")

	rootCmd.PersistentPreRunE = preRun(h, &configFile)

	rootCmd.AddCommand(serverCommands(h))
	rootCmd.AddCommand(workerCommands(h))
	rootCmd.AddCommand(migrateCommands(h))

	return &Herald{cmd: rootCmd}
}

func (w Herald) executeCLI() {
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
