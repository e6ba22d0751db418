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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"flag"
	"github.com/GoogleCloudPlatform/ballotbox/ballot"
	"github.com/GoogleCloudPlatform/ballotbox/client"
	"github.com/GoogleCloudPlatform/ballotbox/client/envelope"
	"github.com/alecthomas/colour"
	glog "github.com/golang/glog"
	"github.com/google/subcommands"
)

// encryptCmd handles CLI options for the encryption command.
type encryptCmd struct {
	voteFile string
	author   string
	force    bool
	quiet    bool
}

func (*encryptCmd) Name() string { return "encrypt" }
func (*encryptCmd) Synopsis() string {
	return "encrypts a filled in ballot to the election public key"
}
func (*encryptCmd) Usage() string {
	return `Usage: ballotbox encrypt [--vote-file=<vote_file>] [--author=<author>] <ballot_file> <encrypted_file>

The ballot is checked against the vote file first; invalid ballots are
refused unless --force is given.

Examples:
  Encrypt a ballot:
    $ ballotbox encrypt ballot.yml alice.json

  Encrypt with input from stdin and output to stdout:
    $ my-editor | ballotbox encrypt - - | my-other-application

Flags:
`
}
func (e *encryptCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&e.voteFile, "vote-file", defaultVoteName, "Path to the vote file.")
	f.StringVar(&e.author, "author", "", "The voter casting the ballot, if the ballot does not name one. Optional.")
	f.BoolVar(&e.force, "force", false, "Encrypt the ballot even if it is invalid.")
	f.BoolVar(&e.quiet, "quiet", false, "Suppress logging output.")
}

func (e *encryptCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 2 {
		glog.Errorf("Not enough arguments (expected ballot file and encrypted file)")
		return subcommands.ExitFailure
	}
	vote, err := ballot.LoadVoteFile(e.voteFile)
	if err != nil {
		glog.Errorf("Failed to load vote file: %v", err.Error())
		return subcommands.ExitFailure
	}
	plaintext, err := readInput(f.Arg(0))
	if err != nil {
		glog.Errorf("Failed to read ballot file: %v", err.Error())
		return subcommands.ExitFailure
	}

	b, err := ballot.ParseBallotFile(plaintext)
	if err != nil {
		glog.Errorf("Failed to parse ballot file: %v", err.Error())
		return subcommands.ExitFailure
	}
	if reason := ballot.ReasonToInvalidate(b, vote, e.author); reason != nil {
		if !e.force {
			glog.Errorf("Refusing to encrypt invalid ballot: %v", reason)
			return subcommands.ExitFailure
		}
		glog.Warningf("Encrypting invalid ballot: %v", reason)
	}

	encrypted, err := client.EncryptBallot(plaintext, []byte(vote.PublicKey))
	if err != nil {
		glog.Errorf("Failed to encrypt ballot: %v", err.Error())
		return subcommands.ExitFailure
	}
	out, err := encrypted.Marshal()
	if err != nil {
		glog.Errorf("Failed to marshal encrypted ballot: %v", err.Error())
		return subcommands.ExitFailure
	}
	if err := writeOutput(f.Arg(1), out, 0644); err != nil {
		glog.Errorf("Failed to write encrypted ballot: %v", err.Error())
		return subcommands.ExitFailure
	}

	if !e.quiet {
		fmt.Fprintln(logWriter(f.Arg(1)), "Encrypted ballot for election", vote.ElectionID)
	}
	return subcommands.ExitSuccess
}

// decryptCmd handles CLI options for the decryption command.
type decryptCmd struct {
	privateKeyFile string
}

func (*decryptCmd) Name() string { return "decrypt" }
func (*decryptCmd) Synopsis() string {
	return "decrypts one ballot with the election private key"
}
func (*decryptCmd) Usage() string {
	return `Usage: ballotbox decrypt --private-key=<private_key_file> <encrypted_file> <ballot_file>

Example:
  $ ballotbox decrypt --private-key=election.pem alice.json -

Flags:
`
}
func (d *decryptCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&d.privateKeyFile, "private-key", "", "Path to the PEM election private key, as written by extract-key or unseal.")
}

func (d *decryptCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 2 {
		glog.Errorf("Not enough arguments (expected encrypted file and ballot file)")
		return subcommands.ExitFailure
	}
	keyBytes, err := os.ReadFile(d.privateKeyFile)
	if err != nil {
		glog.Errorf("Failed to read private key: %v", err.Error())
		return subcommands.ExitFailure
	}
	defer clear(keyBytes)
	key, err := envelope.ParsePrivateKey(keyBytes)
	if err != nil {
		glog.Errorf("Failed to parse private key: %v", err.Error())
		return subcommands.ExitFailure
	}

	data, err := readInput(f.Arg(0))
	if err != nil {
		glog.Errorf("Failed to read encrypted ballot: %v", err.Error())
		return subcommands.ExitFailure
	}
	encrypted, err := ballot.ParseEncryptedBallot(data)
	if err != nil {
		glog.Errorf("Failed to parse encrypted ballot: %v", err.Error())
		return subcommands.ExitFailure
	}

	plaintext, err := envelope.NewDecrypter(key).Decrypt(encrypted.Data, encrypted.EncryptedSecret)
	if err != nil {
		glog.Errorf("Failed to decrypt ballot: %v", err.Error())
		return subcommands.ExitFailure
	}
	if err := writeOutput(f.Arg(1), plaintext, 0600); err != nil {
		glog.Errorf("Failed to write ballot: %v", err.Error())
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// checkCmd handles CLI options for the check command.
type checkCmd struct {
	voteFile string
	author   string
}

func (*checkCmd) Name() string { return "check" }
func (*checkCmd) Synopsis() string {
	return "checks ballots against the vote file"
}
func (*checkCmd) Usage() string {
	return `Usage: ballotbox check [--vote-file=<vote_file>] [--author=<author>] <ballot_file>...

Exits with a failure if any ballot is invalid.

Example:
  $ ballotbox check ballot.yml
  ballot.yml: valid

Flags:
`
}
func (c *checkCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.voteFile, "vote-file", defaultVoteName, "Path to the vote file.")
	f.StringVar(&c.author, "author", "", "The voter who cast the ballots, if they do not name one. Optional.")
}

func (c *checkCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 1 {
		glog.Errorf("Not enough arguments (expected ballot files)")
		return subcommands.ExitFailure
	}
	vote, err := ballot.LoadVoteFile(c.voteFile)
	if err != nil {
		glog.Errorf("Failed to load vote file: %v", err.Error())
		return subcommands.ExitFailure
	}

	status := subcommands.ExitSuccess
	for _, path := range f.Args() {
		reason, err := checkBallot(path, vote, c.author)
		switch {
		case err != nil:
			colour.Printf("%s: ^1error^R: %v\n", path, err)
			status = subcommands.ExitFailure
		case reason != nil:
			colour.Printf("%s: ^1invalid^R: %v\n", path, reason)
			status = subcommands.ExitFailure
		default:
			colour.Printf("%s: ^2valid^R\n", path)
		}
	}
	return status
}

// checkBallot reads the ballot at path and returns why it is invalid, or nil.
func checkBallot(path string, vote *ballot.VoteFile, author string) (*ballot.InvalidationReason, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	b, err := ballot.ParseBallotFile(data)
	if err != nil {
		return nil, err
	}
	return ballot.ReasonToInvalidate(b, vote, author), nil
}

// reconstructCmd handles CLI options for the reconstruct command.
type reconstructCmd struct {
	configFile  string
	voteFile    string
	outDir      string
	parts       stringList
	parallelism int
	quiet       bool
}

func (*reconstructCmd) Name() string { return "reconstruct" }
func (*reconstructCmd) Synopsis() string {
	return "reconstructs the election key from key parts and decrypts every ballot"
}
func (*reconstructCmd) Usage() string {
	return `Usage: ballotbox reconstruct [--vote-file=<vote_file>] --part=<key_part_file>... [--out-dir=<dir>] <encrypted_file>...

Ballots that cannot be decrypted are reported and skipped. Decrypted ballots
are written to --out-dir as <name>.yml, or to stdout as a YAML stream.
Existing files in --out-dir are never replaced.

Example:
  $ ballotbox reconstruct --part=alice.keypart,bob.keypart --out-dir=ballots ballots/*.json

Flags:
`
}
func (r *reconstructCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.configFile, "config-file", defaultConfigPath(), "Path to a ballotbox YAML file. Optional.")
	f.StringVar(&r.voteFile, "vote-file", defaultVoteName, "Path to the vote file.")
	f.StringVar(&r.outDir, "out-dir", "", "Directory for decrypted ballots. Defaults to stdout.")
	f.Var(&r.parts, "part", "A revealed key part file. Repeatable, or comma separated.")
	f.IntVar(&r.parallelism, "parallelism", 0, "Number of ballots decrypted concurrently. Defaults to the config file setting.")
	f.BoolVar(&r.quiet, "quiet", false, "Suppress logging output.")
}

func (r *reconstructCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 1 {
		glog.Errorf("Not enough arguments (expected encrypted ballot files)")
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
	parts, err := readKeyParts(r.parts)
	if err != nil {
		glog.Errorf("%v", err.Error())
		return subcommands.ExitFailure
	}
	key, err := reconstructKey(vote, parts)
	for _, p := range parts {
		clear(p)
	}
	if err != nil {
		glog.Errorf("Failed to reconstruct election key from %d key parts: %v", len(parts), err.Error())
		return subcommands.ExitFailure
	}

	paths := f.Args()
	if r.outDir != "" {
		if name := duplicateOutputName(paths); name != "" {
			glog.Errorf("More than one encrypted ballot would be written to %s", filepath.Join(r.outDir, name))
			return subcommands.ExitFailure
		}
	}
	encrypted := make([]*ballot.EncryptedBallot, len(paths))
	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			glog.Errorf("Failed to read encrypted ballot: %v", err.Error())
			return subcommands.ExitFailure
		}
		// Unparseable ballots are left nil and reported with the others.
		if encrypted[i], err = ballot.ParseEncryptedBallot(data); err != nil {
			glog.Warningf("Skipping %s: %v", path, err)
		}
	}

	parallelism := r.parallelism
	if parallelism == 0 {
		parallelism = cfg.EffectiveParallelism()
	}
	results, err := client.DecryptBallots(ctx, key, encrypted, parallelism)
	if err != nil {
		glog.Errorf("Failed to decrypt ballots: %v", err.Error())
		return subcommands.ExitFailure
	}

	if r.outDir != "" {
		if err := os.MkdirAll(r.outDir, 0700); err != nil {
			glog.Errorf("Failed to create output directory: %v", err.Error())
			return subcommands.ExitFailure
		}
	}

	decrypted := 0
	for i, res := range results {
		if encrypted[i] == nil || res.Err != nil {
			continue
		}
		if reason := checkDecrypted(res.Plaintext, vote); reason != "" {
			glog.Warningf("Ballot %s is invalid: %s", paths[i], reason)
		}
		if err := r.write(paths[i], res.Plaintext); err != nil {
			glog.Errorf("Failed to write decrypted ballot: %v", err.Error())
			return subcommands.ExitFailure
		}
		decrypted++
	}

	if !r.quiet {
		w := os.Stdout
		if r.outDir == "" {
			w = os.Stderr
		}
		fmt.Fprintf(w, "Decrypted %d of %d ballots\n", decrypted, len(paths))
	}
	return subcommands.ExitSuccess
}

// write writes one decrypted ballot to the output directory or stdout.
func (r *reconstructCmd) write(path string, plaintext []byte) error {
	if r.outDir == "" {
		return writeStreamDocument(os.Stdout, path, plaintext)
	}
	return writeNewFile(filepath.Join(r.outDir, outputName(path)), plaintext)
}

// writeStreamDocument writes plaintext as one document of a YAML stream.
func writeStreamDocument(w io.Writer, path string, plaintext []byte) error {
	if _, err := fmt.Fprintf(w, "--- # %s\n", path); err != nil {
		return err
	}
	if _, err := w.Write(plaintext); err != nil {
		return err
	}
	if len(plaintext) > 0 && plaintext[len(plaintext)-1] != '\n' {
		_, err := io.WriteString(w, "\n")
		return err
	}
	return nil
}

// outputName is the file name a decrypted ballot is written under.
func outputName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".yml"
}

// duplicateOutputName returns an output name shared by two of paths, or "".
func duplicateOutputName(paths []string) string {
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		name := outputName(p)
		if seen[name] {
			return name
		}
		seen[name] = true
	}
	return ""
}

// writeNewFile writes data to path, refusing to replace an existing file.
func writeNewFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// checkDecrypted returns why a decrypted ballot is invalid, or "". The
// author is not known here, so a missing one is not reported.
func checkDecrypted(plaintext []byte, vote *ballot.VoteFile) string {
	b, err := ballot.ParseBallotFile(plaintext)
	if err != nil {
		return err.Error()
	}
	reason := ballot.ReasonToInvalidate(b, vote, "-")
	if reason == nil {
		return ""
	}
	return reason.String()
}
