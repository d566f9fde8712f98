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

package shared

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/maestro/internal/jq"
)

// EmitJSON marshals a value to indented JSON on the command's stdout,
// applying the --query jq filter when one is set.
func EmitJSON(cmd *cobra.Command, value any) error {
	filtered, err := ApplyQuery(cmd, value)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(filtered, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

// ApplyQuery runs the --query expression over a value, or returns it
// unchanged when no query is set.
func ApplyQuery(cmd *cobra.Command, value any) (any, error) {
	expression := GetQuery()
	if expression == "" {
		return value, nil
	}
	executor := jq.NewExecutor(0, 0)
	filtered, err := executor.Filter(cmd.Context(), expression, value)
	if err != nil {
		return nil, NewFatalError("invalid --query expression", err)
	}
	return filtered, nil
}
