// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/teradata-labs/warp/pkg/types"
)

var gatewayAddr string

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Submit and inspect tasks on a running daemon",
	Long: heredoc.Doc(`
		Talk to the HTTP gateway of a running "warp serve".

		Examples:
		  warp task submit "summarize my unread mail"
		  warp task list
		  warp task show <id>
		  warp task cancel <id>
		  warp task approve <id>
	`),
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit <payload>",
	Short: "Submit a new task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		priority, _ := cmd.Flags().GetInt("priority")
		body, err := json.Marshal(map[string]interface{}{
			"payload":  args[0],
			"priority": priority,
		})
		if err != nil {
			return err
		}

		var task types.Task
		if err := callGateway(http.MethodPost, "/v1/tasks", body, &task); err != nil {
			return err
		}
		fmt.Printf("submitted %s (%s)\n", task.ID, task.Status)
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		var tasks []*types.Task
		if err := callGateway(http.MethodGet, fmt.Sprintf("/v1/tasks?limit=%d", limit), nil, &tasks); err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("no tasks")
			return nil
		}
		for _, t := range tasks {
			trigger := t.Trigger
			if trigger == "" {
				trigger = "-"
			}
			fmt.Printf("%-36s  %-16s  %-10s  %-12s  %s\n",
				t.ID, t.Status, t.Origin, trigger, excerptLine(t.Payload))
		}
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task and its conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var task types.Task
		if err := callGateway(http.MethodGet, "/v1/tasks/"+args[0], nil, &task); err != nil {
			return err
		}

		fmt.Printf("ID:       %s\n", task.ID)
		fmt.Printf("Status:   %s\n", task.Status)
		fmt.Printf("Origin:   %s\n", task.Origin)
		if task.Trigger != "" {
			fmt.Printf("Trigger:  %s\n", task.Trigger)
		}
		fmt.Printf("Created:  %s\n", task.CreatedAt.Format(time.RFC3339))
		fmt.Printf("Payload:  %s\n", task.Payload)
		if task.Result != "" {
			fmt.Printf("Result:   %s\n", task.Result)
		}
		if task.Error != "" {
			fmt.Printf("Error:    %s\n", task.Error)
		}

		var turns []types.ConversationTurn
		if err := callGateway(http.MethodGet, "/v1/tasks/"+args[0]+"/turns", nil, &turns); err != nil {
			return err
		}
		if len(turns) > 0 {
			fmt.Println("\nTurns:")
			for _, turn := range turns {
				fmt.Printf("  [%d] %-9s %s\n", turn.Seq, turn.Role, excerptLine(turn.Content))
			}
		}
		return nil
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a queued or running task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := callGateway(http.MethodPost, "/v1/tasks/"+args[0]+"/cancel", nil, nil); err != nil {
			return err
		}
		fmt.Println("cancelled", args[0])
		return nil
	},
}

var taskApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a task waiting for approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := callGateway(http.MethodPost, "/v1/tasks/"+args[0]+"/approve", nil, nil); err != nil {
			return err
		}
		fmt.Println("approved", args[0])
		return nil
	},
}

func init() {
	taskCmd.PersistentFlags().StringVar(&gatewayAddr, "addr", "", "gateway address (default: from config)")
	taskSubmitCmd.Flags().Int("priority", 0, "task priority (higher runs first)")
	taskListCmd.Flags().Int("limit", 20, "maximum tasks to list")

	taskCmd.AddCommand(taskSubmitCmd, taskListCmd, taskShowCmd, taskCancelCmd, taskApproveCmd)
	rootCmd.AddCommand(taskCmd)
}

// callGateway performs one JSON request against the running daemon.
func callGateway(method, path string, body []byte, out interface{}) error {
	addr := gatewayAddr
	if addr == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		addr = cfg.Gateway.Addr
	}

	req, err := http.NewRequest(method, "http://"+addr+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func excerptLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}
