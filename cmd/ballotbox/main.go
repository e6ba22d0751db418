// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This binary is the main entrypoint for the ballotbox command line tool.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"flag"
	"github.com/GoogleCloudPlatform/ballotbox/config"
	glog "github.com/golang/glog"
	"github.com/google/subcommands"
)

const (
	// The default name of the vote file.
	defaultVoteName string = "vote.yml"

	// The default name of the blank ballot file.
	defaultBallotName string = "ballot.yml"

	// The current version, displayed via the `version` subcommand.
	ballotboxVersion string = "0.0.0"
)

// defaultConfigPath returns the default --config-file value.
func defaultConfigPath() string {
	path, err := config.DefaultPath()
	if err != nil {
		glog.Errorf("Failed to get config directory location: %v", err.Error())
		return config.DefaultName
	}
	return path
}

// stringList is a repeatable string flag. Each value may also hold a comma
// separated list.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			*s = append(*s, item)
		}
	}
	return nil
}

// readInput reads the file at path, or stdin for "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// writeOutput writes data to the file at path, or stdout for "-".
func writeOutput(path string, data []byte, perm os.FileMode) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, perm)
}

// logWriter returns where status messages go: stderr if any output is
// written to stdout, stdout otherwise.
func logWriter(outputs ...string) io.Writer {
	for _, o := range outputs {
		if o == "-" {
			return os.Stderr
		}
	}
	return os.Stdout
}

// loadConfig loads the configuration file, logging any failure.
func loadConfig(path string) (*config.Config, bool) {
	cfg, err := config.Load(path)
	if err != nil {
		glog.Errorf("Failed to load config file: %v", err.Error())
		return nil, false
	}
	return cfg, true
}

// versionCmd handles CLI options for the version command.
type versionCmd struct{}

func (*versionCmd) Name() string           { return "version" }
func (*versionCmd) Synopsis() string       { return "prints the current version" }
func (*versionCmd) Usage() string          { return "Usage: ballotbox version" }
func (*versionCmd) SetFlags(*flag.FlagSet) {}
func (*versionCmd) Execute(context.Context, *flag.FlagSet, ...interface{}) subcommands.ExitStatus {
	fmt.Printf("ballotbox Version %s\n", ballotboxVersion)
	return subcommands.ExitSuccess
}

func main() {
	flag.Parse()

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(&genkeyCmd{}, "election")
	subcommands.Register(&revealCmd{}, "election")
	subcommands.Register(&unsealCmd{}, "election")
	subcommands.Register(&extractKeyCmd{}, "election")
	subcommands.Register(&encryptCmd{}, "ballots")
	subcommands.Register(&checkCmd{}, "ballots")
	subcommands.Register(&decryptCmd{}, "ballots")
	subcommands.Register(&reconstructCmd{}, "ballots")
	subcommands.Register(&versionCmd{}, "")

	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}
