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
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/communehq/commune/database"
	"github.com/communehq/commune/relay"
)

// relayCommands creates the command that runs the outbox relay: it drains
// PENDING and retry-eligible FAILED records to the broker until interrupted.
func relayCommands(b *communeInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "start the outbox relay",
		Run: func(cmd *cobra.Command, args []string) {
			ds, err := database.NewDataSource(b.cnf)
			if err != nil {
				log.Fatalf("error getting datasource: %v", err)
			}

			publisher, err := relay.NewRabbitMQPublisher(b.cnf.Broker.Url, b.cnf.Broker.Exchange)
			if err != nil {
				log.Fatalf("error connecting to broker: %v", err)
			}
			defer publisher.Close()

			r, err := relay.NewRelay(ds, publisher)
			if err != nil {
				log.Fatalf("error creating relay: %v", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logrus.Info("outbox relay started")
			r.Run(ctx)
		},
	}

	return cmd
}
