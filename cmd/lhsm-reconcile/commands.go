// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/intel-hpdd/logging/alert"
	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"github.com/intel-hpdd/lhsm-reconcile/pkg/pathkey"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/reconcile"
)

func init() {
	nullFlag := cli.BoolFlag{
		Name:  "null, 0",
		Usage: "Null-separated paths are read from stdin (e.g. piped from find -print0)",
	}
	forceFlag := cli.BoolFlag{
		Name:  "force, f",
		Usage: "Continue past reconciliation failures",
	}

	reconcileCommands := []cli.Command{
		{
			Name:      "check",
			Usage:     "Verify HSM state against the backend, marking drifted files dirty and lost",
			ArgsUsage: "[path [path...]]",
			Action:    engineAction,
			Flags:     []cli.Flag{nullFlag, forceFlag},
		},
		{
			Name:      "archive",
			Usage:     "Archive specified paths unless that would overwrite backend data",
			ArgsUsage: "[path [path...]]",
			Action:    engineAction,
			Flags:     []cli.Flag{nullFlag, forceFlag},
		},
		{
			Name:      "release",
			Usage:     "Release local data of healthy HSM-archived paths",
			ArgsUsage: "[path [path...]]",
			Action:    engineAction,
			Flags:     []cli.Flag{nullFlag, forceFlag},
		},
		{
			Name:      "remove",
			Usage:     "Remove HSM-archived data of specified paths (local data is not removed)",
			ArgsUsage: "[path [path...]]",
			Action:    engineAction,
			Flags: []cli.Flag{
				nullFlag,
				cli.BoolFlag{
					Name:  "force, f",
					Usage: "Delete the backend object directly, regardless of HSM state. Use carefully.",
				},
			},
		},
		{
			Name:      "restore",
			Usage:     "Explicitly restore local data of HSM-archived paths",
			ArgsUsage: "[path [path...]]",
			Action:    engineAction,
			Flags: []cli.Flag{
				nullFlag,
				forceFlag,
				cli.BoolFlag{
					Name:  "wait, w",
					Usage: "Wait for each restore to complete",
				},
			},
		},
		{
			Name:      "cancel",
			Usage:     "Cancel HSM operations being performed on specified paths",
			ArgsUsage: "[path [path...]]",
			Action:    engineAction,
			Flags:     []cli.Flag{nullFlag},
		},
		{
			Name:      "status",
			Usage:     "Display HSM state, backend keys and object presence for specified paths",
			ArgsUsage: "[path [path...]]",
			Action:    statusAction,
			Flags:     []cli.Flag{nullFlag},
		},
	}
	commands = append(commands, reconcileCommands...)
}

func getFilePaths(c *cli.Context) ([]string, error) {
	return readPaths(c.Bool("null"), os.Stdin, c.Args())
}

func readPaths(null bool, r io.Reader, args []string) ([]string, error) {
	if !null {
		return args, nil
	}

	var paths []string
	reader := bufio.NewReader(r)
	path, err := reader.ReadBytes('\000')
	for err == nil {
		if len(path) > 1 {
			paths = append(paths, string(path[:len(path)-1]))
		}
		path, err = reader.ReadBytes('\000')
	}
	if err != io.EOF {
		return nil, err
	}
	if len(path) > 0 {
		paths = append(paths, string(path))
	}
	return paths, nil
}

// skipReason explains why path is not a file the engine can act on.
func skipReason(path string) string {
	fi, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return "does not exist"
	case err != nil:
		return err.Error()
	case fi.IsDir():
		return "is a directory, HSM operates on files"
	}
	return ""
}

type session struct {
	ctx      context.Context
	engine   *reconcile.Engine
	resolver *pathkey.Resolver
	done     func()
}

func newSession(c *cli.Context) (*session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	interruptHandler(cancel)

	eng, resolver, closeFn, err := newEngine(ctx, c.GlobalString("config"))
	if err != nil {
		cancel()
		return nil, err
	}
	return &session{
		ctx:      ctx,
		engine:   eng,
		resolver: resolver,
		done: func() {
			if err := closeFn(); err != nil {
				alert.Warnf("closing backend: %v", err)
			}
			cancel()
		},
	}, nil
}

// commandOperation maps a subcommand and its flags to an engine operation.
func commandOperation(name string, wait bool) (reconcile.Operation, error) {
	if wait {
		name += "-wait"
	}
	return reconcile.ParseOperation(name)
}

func engineAction(c *cli.Context) error {
	logContext(c)

	op, err := commandOperation(c.Command.Name, c.Bool("wait"))
	if err != nil {
		return err
	}

	paths, err := getFilePaths(c)
	if err != nil {
		return err
	}
	if len(paths) < 1 {
		return errors.Errorf("%s request must be made with at least 1 path", c.Command.Name)
	}

	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.done()

	return runBatch(s.ctx, s.engine, op, paths, c.Bool("force"), os.Stdout)
}

// runBatch applies op to each path in turn. A failure is logged and
// counted; it does not stop the remaining paths.
func runBatch(ctx context.Context, eng *reconcile.Engine, op reconcile.Operation, paths []string, force bool, w io.Writer) error {
	var failed, skipped int

	for _, path := range paths {
		if ctx.Err() != nil {
			return errors.Wrapf(ctx.Err(), "%s interrupted", op)
		}
		if why := skipReason(path); why != "" {
			alert.Warnf("%s %s, skipping", path, why)
			skipped++
			continue
		}

		out, err := eng.Do(ctx, op, path, force)
		if err != nil {
			alert.Warnf("%s: %s failed: %v", path, op, err)
		}
		if out == reconcile.OutcomeFailed {
			failed++
		}
		fmt.Fprintf(w, "%s %s\n", path, out)
	}

	eng.Stats().Log()
	if failed > 0 {
		return errors.Errorf("%s failed for %d of %d paths (%d skipped)", op, failed, len(paths), skipped)
	}
	return nil
}

func statusAction(c *cli.Context) error {
	logContext(c)

	paths, err := getFilePaths(c)
	if err != nil {
		return err
	}
	if len(paths) < 1 {
		return errors.New("status request must be made with at least 1 path")
	}

	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.done()

	return printStatus(s.ctx, s.engine, s.resolver, paths, os.Stdout)
}

func printStatus(ctx context.Context, eng *reconcile.Engine, resolver *pathkey.Resolver, paths []string, w io.Writer) error {
	var failed int
	for _, path := range paths {
		if why := skipReason(path); why != "" {
			alert.Warnf("%s %s, skipping", path, why)
			continue
		}
		root, err := resolver.Root(path)
		if err != nil {
			alert.Warnf("%s: %v", path, err)
			failed++
			continue
		}
		rec, err := eng.Status(ctx, path)
		if err != nil {
			alert.Warnf("%s: %v", path, err)
			failed++
			continue
		}
		var size int64
		if fi, err := os.Stat(path); err == nil {
			size = fi.Size()
		}
		fmt.Fprintln(w, formatStatus(rec, root.FsName(), size))
	}
	if failed > 0 {
		return errors.Errorf("status failed for %d of %d paths", failed, len(paths))
	}
	return nil
}

func health(rec *reconcile.FileRecord) string {
	switch {
	case reconcile.NeedsArchive(rec.State):
		return "needs-archive"
	case reconcile.Healthy(rec.State, rec.Key, rec.Recorded, rec.CanonicalObject == reconcile.Present):
		return "healthy"
	default:
		return "unhealthy"
	}
}

func formatStatus(rec *reconcile.FileRecord, fsName string, size int64) string {
	var buf bytes.Buffer

	if fsName == "" {
		fsName = "-"
	}
	recorded := rec.Recorded
	if recorded == "" {
		recorded = "-"
	}
	fmt.Fprintf(&buf, "%s %s archive:%d key:%s (%s) recorded:%s",
		rec.Path, rec.State, rec.ArchiveID, rec.Key, rec.CanonicalObject, recorded)
	if rec.Recorded != "" {
		fmt.Fprintf(&buf, " (%s)", rec.RecordedObject)
	}
	fmt.Fprintf(&buf, " fs:%s size:%s %s", fsName, humanize.IBytes(uint64(size)), health(rec))
	return buf.String()
}
