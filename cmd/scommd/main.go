//go:build linux
// +build linux

package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/rigado/scomm"
)

var log = scomm.GetLogger()

func main() {
	app := cli.NewApp()
	app.Name = "scommd"
	app.Usage = "Bridge a SeekWave controller's device nodes to an HCI host stack"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "c,config",
			Value: scomm.DefaultConfigFile,
			Usage: "skwbt.conf to load",
		},
		cli.StringFlag{
			Name:  "nv-dir",
			Usage: "directory holding the NV binaries",
		},
		cli.BoolFlag{
			Name:  "q,quiet",
			Usage: "log at info level regardless of SkwBtDrvlog",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "run",
			Usage:     "open the transport, bootstrap the controller and keep bridging",
			ArgsUsage: "[host command...]",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "uart",
					Usage: "use a single UART port on this node",
				},
				cli.StringSliceFlag{
					Name:  "node",
					Usage: "USB/SDIO device node, repeat in port order",
				},
				cli.StringFlag{
					Name:  "snoop",
					Usage: "capture btsnoop to this file",
				},
				cli.StringFlag{
					Name:  "addr",
					Usage: "public address to program when the platform has none",
				},
				cli.DurationFlag{
					Name:  "timeout",
					Value: bootstrapTimeout,
					Usage: "bootstrap timeout",
				},
				cli.BoolFlag{
					Name:  "skip-bootstrap",
					Usage: "bridge without configuring the controller",
				},
			},
			Action: runCommand,
		},
		{
			Name:  "nv",
			Usage: "print the NV download a chip would receive",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "chip",
					Value: "0x0017",
					Usage: "chip identity to assume",
				},
				cli.StringFlag{
					Name:  "addr-dir",
					Usage: "directory of the persisted address part, empty for none",
				},
			},
			Action: nvCommand,
		},
		{
			Name:   "addr",
			Usage:  "print the address that bootstrap would program",
			Action: addrCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the conf file named by the global flags and applies opts.
func loadConfig(c *cli.Context, opts ...scomm.Option) (*scomm.Config, error) {
	if dir := c.GlobalString("nv-dir"); dir != "" {
		opts = append(opts, scomm.OptNVDir(dir))
	}
	if c.GlobalBool("quiet") {
		opts = append(opts, scomm.OptDriverLog(false))
	}
	return scomm.LoadConfig(c.GlobalString("config"), opts...)
}
