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

package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"flag"
	"github.com/GoogleCloudPlatform/ballotbox/ballot"
	"github.com/GoogleCloudPlatform/ballotbox/client"
	"github.com/GoogleCloudPlatform/ballotbox/client/shares"
	glog "github.com/golang/glog"
	"github.com/google/subcommands"
	"github.com/google/uuid"
)

// readKeyParts reads and dearmors the key part files at paths.
func readKeyParts(paths []string) ([][]byte, error) {
	parts := make([][]byte, 0, len(paths))
	for _, p := range paths {
		text, err := readInput(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read key part %s: %v", p, err)
		}
		part, err := shares.Dearmor(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key part %s: %w", p, err)
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// reconstructKey recovers the election private key of vote from parts and
// checks it against the published public key.
func reconstructKey(vote *ballot.VoteFile, parts [][]byte) (*client.ReconstructedKey, error) {
	encryptedPrivateKey, err := vote.EncryptedPrivateKeyBytes()
	if err != nil {
		return nil, err
	}
	key, err := client.ReconstructSplitKey(encryptedPrivateKey, parts, vote.Threshold)
	if err != nil {
		return nil, err
	}
	if err := key.CheckPublicKey([]byte(vote.PublicKey)); err != nil {
		return nil, err
	}
	return key, nil
}

// genkeyCmd handles CLI options for the genkey command.
type genkeyCmd struct {
	configFile string
	voteFile   string
	ballotFile string
	subject    string
	method     string
	header     string
	footer     string
	candidates stringList
	voters     stringList
	threshold  int
	quiet      bool
}

func (*genkeyCmd) Name() string { return "genkey" }
func (*genkeyCmd) Synopsis() string {
	return "generates an election key pair split among the configured trustees"
}
func (*genkeyCmd) Usage() string {
	return fmt.Sprintf(`Usage: ballotbox genkey [--config-file=<config_file>] --subject=<subject> --candidate=<name>... [--threshold=<t>]

Generates the election key pair, encrypts the private key, splits the
encryption secret into one key part per trustee of the config file (%s by
default), and writes the vote file and the blank ballot.

Examples:
  Open an election among three candidates, any two trustees can count it:
    $ ballotbox genkey --subject="Team lunch" --candidate=pizza,sushi,tacos --threshold=2

  Write the vote file to stdout:
    $ ballotbox genkey --subject="Team lunch" --candidate=pizza --vote-file=- > vote.yml

Flags:
`, defaultConfigPath())
}
func (g *genkeyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&g.configFile, "config-file", defaultConfigPath(), "Path to a ballotbox YAML file listing the trustees. Optional.")
	f.StringVar(&g.voteFile, "vote-file", defaultVoteName, "Where to write the vote file.")
	f.StringVar(&g.ballotFile, "ballot-file", defaultBallotName, "Where to write the blank ballot.")
	f.StringVar(&g.subject, "subject", "", "The subject of the election.")
	f.StringVar(&g.method, "method", "", "The counting method, recorded in the vote file. Optional.")
	f.StringVar(&g.header, "header", "", "Instructions shown above the ballot. Optional.")
	f.StringVar(&g.footer, "footer", "", "Instructions shown below the ballot. Optional.")
	f.Var(&g.candidates, "candidate", "A candidate. Repeatable, or comma separated.")
	f.Var(&g.voters, "voter", "A voter allowed to cast a ballot. Repeatable, or comma separated. Optional.")
	f.IntVar(&g.threshold, "threshold", 0, "Number of trustees needed to count the ballots. Defaults to a majority.")
	f.BoolVar(&g.quiet, "quiet", false, "Suppress logging output.")
}

func (g *genkeyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, ok := loadConfig(g.configFile)
	if !ok {
		return subcommands.ExitFailure
	}
	if len(cfg.Trustees) == 0 {
		glog.Errorf("No trustees found in config file %s", g.configFile)
		return subcommands.ExitFailure
	}
	if g.subject == "" || len(g.candidates) == 0 {
		glog.Errorf("Both --subject and at least one --candidate are required")
		return subcommands.ExitFailure
	}

	threshold := g.threshold
	if threshold == 0 {
		threshold = len(cfg.Trustees)/2 + 1
	}

	kp, err := client.GenerateAndSplitKeyPair(len(cfg.Trustees), threshold)
	if err != nil {
		glog.Errorf("Failed to generate election key: %v", err.Error())
		return subcommands.ExitFailure
	}
	defer func() {
		for _, s := range kp.Shares {
			clear(s)
		}
	}()

	c := client.BallotClient{Version: ballotboxVersion}
	defer c.Close()

	wrapped, err := c.WrapKeyParts(ctx, kp.Shares, cfg)
	if err != nil {
		glog.Errorf("Failed to wrap key parts: %v", err.Error())
		return subcommands.ExitFailure
	}

	vote := &ballot.VoteFile{
		ElectionID:          uuid.NewString(),
		Subject:             g.subject,
		HeaderInstructions:  g.header,
		FooterInstructions:  g.footer,
		Method:              g.method,
		Candidates:          g.candidates,
		AllowedVoters:       g.voters,
		Threshold:           kp.Threshold,
		PublicKey:           string(kp.PublicKeyPEM()),
		EncryptedPrivateKey: base64.StdEncoding.EncodeToString(kp.EncryptedPrivateKey),
		Shares:              wrapped,
	}
	if vote.Checksum, err = ballot.PoolChecksum(vote); err != nil {
		glog.Errorf("Failed to compute pool checksum: %v", err.Error())
		return subcommands.ExitFailure
	}

	voteYAML, err := vote.Marshal()
	if err != nil {
		glog.Errorf("Failed to marshal vote file: %v", err.Error())
		return subcommands.ExitFailure
	}
	blank, err := ballot.BlankBallotYAML(vote)
	if err != nil {
		glog.Errorf("Failed to render blank ballot: %v", err.Error())
		return subcommands.ExitFailure
	}
	if err := writeOutput(g.voteFile, voteYAML, 0644); err != nil {
		glog.Errorf("Failed to write vote file: %v", err.Error())
		return subcommands.ExitFailure
	}
	if err := writeOutput(g.ballotFile, blank, 0644); err != nil {
		glog.Errorf("Failed to write blank ballot: %v", err.Error())
		return subcommands.ExitFailure
	}

	if !g.quiet {
		w := logWriter(g.voteFile, g.ballotFile)
		fmt.Fprintln(w, "Election ID:", vote.ElectionID)
		fmt.Fprintf(w, "Key parts: %d, threshold: %d\n", len(wrapped), vote.Threshold)
		fmt.Fprintln(w, "Trustees:", cfg.TrusteeNames())
	}
	return subcommands.ExitSuccess
}

// revealCmd handles CLI options for the reveal command.
type revealCmd struct {
	configFile string
	voteFile   string
	quiet      bool
}

func (*revealCmd) Name() string { return "reveal" }
func (*revealCmd) Synopsis() string {
	return "unwraps a trustee's key part so it can be handed to the counter"
}
func (*revealCmd) Usage() string {
	return `Usage: ballotbox reveal [--config-file=<config_file>] [--vote-file=<vote_file>] <key_part_file>

Unwraps the first key part of the vote file that one of the trustee keys of
the config file can open, and writes it armored.

Example:
  $ ballotbox reveal alice.keypart

Flags:
`
}
func (r *revealCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.configFile, "config-file", defaultConfigPath(), "Path to a ballotbox YAML file. Optional.")
	f.StringVar(&r.voteFile, "vote-file", defaultVoteName, "Path to the vote file.")
	f.BoolVar(&r.quiet, "quiet", false, "Suppress logging output.")
}

func (r *revealCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 1 {
		glog.Errorf("Not enough arguments (expected key part file)")
		return subcommands.ExitFailure
	}
	cfg, ok := loadConfig(r.configFile)
	if !ok {
		return subcommands.ExitFailure
	}
	vote, err := ballot.LoadVoteFile(r.voteFile)
	if err != nil {
		glog.Errorf("Failed to load vote file: %v", err.Error())
		return subcommands.ExitFailure
	}

	c := client.BallotClient{Version: ballotboxVersion}
	defer c.Close()

	part, err := c.UnwrapKeyPart(ctx, vote.Shares, cfg)
	if err != nil {
		glog.Errorf("Failed to unwrap key part: %v", err.Error())
		return subcommands.ExitFailure
	}
	defer clear(part.Part)

	if err := writeOutput(f.Arg(0), []byte(shares.Armor(part.Part)), 0600); err != nil {
		glog.Errorf("Failed to write key part: %v", err.Error())
		return subcommands.ExitFailure
	}
	if !r.quiet {
		fmt.Fprintf(logWriter(f.Arg(0)), "Revealed key part of %s\n", part.Trustee)
	}
	return subcommands.ExitSuccess
}

// unsealCmd handles CLI options for the unseal command.
type unsealCmd struct {
	configFile string
	voteFile   string
	quiet      bool
}

func (*unsealCmd) Name() string { return "unseal" }
func (*unsealCmd) Synopsis() string {
	return "recovers the election private key with locally held trustee keys"
}
func (*unsealCmd) Usage() string {
	return `Usage: ballotbox unseal [--config-file=<config_file>] [--vote-file=<vote_file>] <private_key_file>

Unwraps every key part of the vote file that the trustee keys of the config
file can open and, if there are enough of them, writes the election private
key as PEM.

Example:
  $ ballotbox unseal --config-file=all-trustees.yaml election.pem

Flags:
`
}
func (u *unsealCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&u.configFile, "config-file", defaultConfigPath(), "Path to a ballotbox YAML file. Optional.")
	f.StringVar(&u.voteFile, "vote-file", defaultVoteName, "Path to the vote file.")
	f.BoolVar(&u.quiet, "quiet", false, "Suppress logging output.")
}

func (u *unsealCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 1 {
		glog.Errorf("Not enough arguments (expected private key file)")
		return subcommands.ExitFailure
	}
	cfg, ok := loadConfig(u.configFile)
	if !ok {
		return subcommands.ExitFailure
	}
	vote, err := ballot.LoadVoteFile(u.voteFile)
	if err != nil {
		glog.Errorf("Failed to load vote file: %v", err.Error())
		return subcommands.ExitFailure
	}

	c := client.BallotClient{Version: ballotboxVersion}
	defer c.Close()

	unwrapped, err := c.UnwrapKeyParts(ctx, vote.Shares, cfg)
	if err != nil {
		glog.Errorf("Failed to unwrap key parts: %v", err.Error())
		return subcommands.ExitFailure
	}
	parts := make([][]byte, 0, len(unwrapped))
	for _, p := range unwrapped {
		parts = append(parts, p.Part)
	}
	defer func() {
		for _, p := range parts {
			clear(p)
		}
	}()

	return writePrivateKey(vote, parts, f.Arg(0), u.quiet)
}

// writePrivateKey reconstructs the election private key and writes it as PEM.
func writePrivateKey(vote *ballot.VoteFile, parts [][]byte, path string, quiet bool) subcommands.ExitStatus {
	key, err := reconstructKey(vote, parts)
	if err != nil {
		glog.Errorf("Failed to reconstruct election key from %d key parts: %v", len(parts), err.Error())
		return subcommands.ExitFailure
	}
	pemBytes, err := key.Armored()
	if err != nil {
		glog.Errorf("Failed to encode election key: %v", err.Error())
		return subcommands.ExitFailure
	}
	defer clear(pemBytes)

	if err := writeOutput(path, pemBytes, 0600); err != nil {
		glog.Errorf("Failed to write election key: %v", err.Error())
		return subcommands.ExitFailure
	}
	if !quiet {
		fmt.Fprintf(logWriter(path), "Reconstructed election key from %d key parts\n", len(parts))
	}
	return subcommands.ExitSuccess
}

// extractKeyCmd handles CLI options for the extract-key command.
type extractKeyCmd struct {
	voteFile string
	parts    stringList
	quiet    bool
}

func (*extractKeyCmd) Name() string { return "extract-key" }
func (*extractKeyCmd) Synopsis() string {
	return "reconstructs the election private key from revealed key parts"
}
func (*extractKeyCmd) Usage() string {
	return `Usage: ballotbox extract-key [--vote-file=<vote_file>] --part=<key_part_file>... <private_key_file>

Example:
  $ ballotbox extract-key --part=alice.keypart --part=bob.keypart election.pem

Flags:
`
}
func (e *extractKeyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&e.voteFile, "vote-file", defaultVoteName, "Path to the vote file.")
	f.Var(&e.parts, "part", "A revealed key part file. Repeatable, or comma separated.")
	f.BoolVar(&e.quiet, "quiet", false, "Suppress logging output.")
}

func (e *extractKeyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 1 {
		glog.Errorf("Not enough arguments (expected private key file)")
		return subcommands.ExitFailure
	}
	vote, err := ballot.LoadVoteFile(e.voteFile)
	if err != nil {
		glog.Errorf("Failed to load vote file: %v", err.Error())
		return subcommands.ExitFailure
	}
	parts, err := readKeyParts(e.parts)
	if err != nil {
		glog.Errorf("%v", err.Error())
		return subcommands.ExitFailure
	}
	if len(parts) < vote.Threshold {
		fmt.Fprintf(os.Stderr, "Warning: %d key parts given, the election needs %d\n", len(parts), vote.Threshold)
	}
	return writePrivateKey(vote, parts, f.Arg(0), e.quiet)
}
