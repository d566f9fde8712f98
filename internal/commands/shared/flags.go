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
	"os"
	"path/filepath"
)

// Global flag values - set by root command
var (
	verboseFlag bool
	quietFlag   bool
	jsonFlag    bool
	queryFlag   string
	homeFlag    string

	// Build-time version information
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns pointers to flag variables for binding.
// Called by root command to register flags.
func RegisterFlagPointers() (verbose, quiet, json *bool, query, home *string) {
	return &verboseFlag, &quietFlag, &jsonFlag, &queryFlag, &homeFlag
}

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verboseFlag
}

// GetQuiet returns the quiet flag value
func GetQuiet() bool {
	return quietFlag
}

// GetJSON returns the JSON output flag value
func GetJSON() bool {
	return jsonFlag
}

// GetQuery returns the jq expression applied to JSON output
func GetQuery() string {
	return queryFlag
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// Home resolves the maestro home directory: --home flag, then MAESTRO_HOME,
// then ~/.maestro.
func Home() string {
	if homeFlag != "" {
		return homeFlag
	}
	if env := os.Getenv("MAESTRO_HOME"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".maestro"
	}
	return filepath.Join(home, ".maestro")
}

// RunsDir is where per-run directories live: MAESTRO_RUNS_DIR when set,
// otherwise <home>/runs.
func RunsDir() string {
	if env := os.Getenv("MAESTRO_RUNS_DIR"); env != "" {
		return env
	}
	return filepath.Join(Home(), "runs")
}

// SetHomeForTest sets the home directory for testing purposes
func SetHomeForTest(path string) {
	homeFlag = path
}
