// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package approve implements the approve command for runs paused on an
// approval gate.
package approve

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/maestro/internal/commands/shared"
	"github.com/tombee/maestro/pkg/approval"
	"github.com/tombee/maestro/pkg/errors"
	runstore "github.com/tombee/maestro/pkg/run"
)

// secretEnv names the environment variable carrying the HMAC secret for
// approval tokens.
const secretEnv = "MAESTRO_APPROVAL_SECRET"

// NewApproveCommand creates the approve command
func NewApproveCommand() *cobra.Command {
	var runID string
	var step int
	var approver string
	var deny bool
	var token string

	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve or deny a paused run",
		Long: `Resolve a run paused on an approval gate. With --token an existing
signed token is applied. Otherwise a token is issued for --run-id,
--step, and --approver and applied immediately. --deny fails the run
instead of resuming it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv(secretEnv)
			if secret == "" {
				return &errors.ValidationError{
					Field:      "secret",
					Message:    "approval secret is not configured",
					Suggestion: "set " + secretEnv,
				}
			}

			store := runstore.NewStore(shared.RunsDir())
			manager, err := approval.NewManager(store, []byte(secret))
			if err != nil {
				return err
			}

			if token == "" {
				decision := approval.DecisionApprove
				if deny {
					decision = approval.DecisionDeny
				}
				token, err = manager.Issue(runID, step, approver, decision)
				if err != nil {
					return err
				}
			}

			record, err := manager.Apply(token)
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				if err := shared.EmitJSON(cmd, record); err != nil {
					return err
				}
			} else if record.Status == runstore.StatusFailed {
				cmd.Println(shared.RenderWarn(fmt.Sprintf("run %s denied and marked failed", record.RunID)))
			} else {
				cmd.Println(shared.RenderOK(fmt.Sprintf("run %s approved, resuming at step %d", record.RunID, record.CurrentStep)))
			}

			if record.Status == runstore.StatusFailed {
				return shared.NewFailureError(fmt.Sprintf("run %s denied", record.RunID), nil)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run id (when issuing a token)")
	cmd.Flags().IntVar(&step, "step", 0, "Step the run is paused at")
	cmd.Flags().StringVar(&approver, "approver", "", "Approver identity")
	cmd.Flags().BoolVar(&deny, "deny", false, "Deny instead of approve")
	cmd.Flags().StringVar(&token, "token", "", "Apply an existing approval token")

	return cmd
}
