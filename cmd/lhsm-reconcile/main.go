// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/intel-hpdd/logging"
	"github.com/intel-hpdd/logging/debug"
	"gopkg.in/urfave/cli.v1"

	"github.com/intel-hpdd/lhsm-reconcile/pkg/config"
)

var commands []cli.Command
var version string // Set by build environment

func main() {
	app := cli.NewApp()
	app.Name = "lhsm-reconcile"
	app.Usage = "Keep Lustre HSM state consistent with the archive backend"
	app.Commands = commands
	app.Version = version
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "debug",
			Usage: "Display debug logging to console",
		},
		cli.StringFlag{
			Name:  "logfile, l",
			Usage: "Log tool activity to this file",
			Value: "",
		},
		cli.StringFlag{
			Name:  "config, c",
			Usage: "Backend configuration file",
			Value: config.DefaultConfigPath,
		},
	}
	app.Before = configureLogging
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func configureLogging(c *cli.Context) error {
	if c.Bool("debug") {
		debug.Enable()
	}
	if logfile := c.String("logfile"); logfile != "" {
		if err := logging.SetWriter(logfile); err != nil {
			return err
		}
	}

	return nil
}

func logContext(c *cli.Context) {
	for {
		if c.Parent() == nil {
			break
		}
		c = c.Parent()
	}

	debug.Printf("Context: %s", strings.Join(c.Args(), " "))
}

func interruptHandler(once func()) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)

	go func() {
		stopping := false
		for sig := range c {
			debug.Printf("signal received: %s", sig)
			if !stopping {
				stopping = true
				once()
			}
		}
	}()
}
