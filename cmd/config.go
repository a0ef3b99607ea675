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
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/qzd-finance/qzd/config"
)

const redacted = "[redacted]"

// redactedConfig returns a copy of cnf with secrets masked.
func redactedConfig(cnf config.Configuration) config.Configuration {
	if cnf.Server.SecretKey != "" {
		cnf.Server.SecretKey = redacted
	}
	if cnf.Auth.JWTSecret != "" {
		cnf.Auth.JWTSecret = redacted
	}
	if len(cnf.Notification.Webhook.Headers) > 0 {
		headers := make(map[string]string, len(cnf.Notification.Webhook.Headers))
		for k := range cnf.Notification.Webhook.Headers {
			headers[k] = redacted
		}
		cnf.Notification.Webhook.Headers = headers
	}
	return cnf
}

func configCommands(app *qzdInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "config outputs your instance's computed configuration",
		Run: func(cmd *cobra.Command, args []string) {
			data, err := json.MarshalIndent(redactedConfig(*app.cnf), "", "    ")
			if err != nil {
				log.Fatalf("Error printing config: %v\n", err)
			}
			fmt.Println(string(data))
		},
	}
	return cmd
}
