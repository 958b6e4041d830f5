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
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/churnguard/config"
)

// configCommands prints the effective configuration, defaults and
// environment overrides included.
func configCommands(_ *churnguardInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "print the loaded configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Fetch()
			if err != nil {
				logrus.Fatalf("error getting config: %v", err)
			}

			data, err := json.MarshalIndent(cfg, "", "    ")
			if err != nil {
				logrus.Fatalf("error printing config: %v", err)
			}

			fmt.Println(string(data))
		},
	}
	return cmd
}
