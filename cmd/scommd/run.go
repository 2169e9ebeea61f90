//go:build linux
// +build linux

package main

import (
	"os"
	"os/exec"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"golang.org/x/sys/unix"

	"github.com/rigado/scomm"
	"github.com/rigado/scomm/addr"
	"github.com/rigado/scomm/linux"
	"github.com/rigado/scomm/linux/hci/h4"
	"github.com/rigado/scomm/linux/hci/host"
)

const bootstrapTimeout = 10 * time.Second

func runCommand(c *cli.Context) error {
	var opts []scomm.Option
	if n := c.StringSlice("node"); len(n) > 0 {
		opts = append(opts, scomm.OptDeviceNodes(n...))
	}
	if u := c.String("uart"); u != "" {
		opts = append(opts, scomm.OptUart(u))
	}
	if s := c.String("snoop"); s != "" {
		opts = append(opts, scomm.OptSnoop(s, false))
	}
	cfg, err := loadConfig(c, opts...)
	if err != nil {
		return err
	}

	d, err := linux.NewDevice(cfg)
	if err != nil {
		return err
	}
	defer d.Cleanup()

	if s := c.String("addr"); s != "" {
		a, err := addr.ParseAddr(s)
		if err != nil {
			return err
		}
		d.SetHostAddress(a)
	}

	fd, err := d.OpenAll()
	if err != nil {
		return errors.Wrap(err, "can't open transport")
	}
	defer d.CloseAll()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, unix.SIGINT, unix.SIGTERM)

	link, err := host.Dial(fd)
	if err != nil {
		return err
	}
	defer link.Close()

	if !c.Bool("skip-bootstrap") {
		if err := bootstrap(d, link, c.Duration("timeout")); err != nil {
			return err
		}
	}

	if args := c.Args(); len(args) > 0 {
		link.Close()
		return runHost(fd, args, sig)
	}

	link.SetHandler(func(f h4.Frame) {
		log.Debugf("rx %v", f)
	})
	select {
	case s := <-sig:
		log.Infof("%v, shutting down", s)
	case <-link.Done():
		log.Warnf("host link closed: %v", link.Err())
	}
	return nil
}

func bootstrap(d *linux.Device, link *host.Link, timeout time.Duration) error {
	result := make(chan bool, 1)
	link.OnConfigResult(func(ok bool) {
		select {
		case result <- ok:
		default:
		}
	})
	if err := d.ConfigStart(link); err != nil {
		return errors.Wrap(err, "can't start bootstrap")
	}

	select {
	case ok := <-result:
		if !ok {
			return errors.New("controller bootstrap failed")
		}
		log.Infof("controller 0x%04x configured", d.ChipID())
		return nil
	case <-time.After(timeout):
		return errors.Errorf("controller bootstrap timed out after %v", timeout)
	}
}

// runHost hands the host end of port 0 to a host stack as fd 3 and waits
// for it to exit.
func runHost(fd int, args []string, sig chan os.Signal) error {
	nfd, err := unix.Dup(fd)
	if err != nil {
		return errors.Wrap(err, "can't dup host fd")
	}
	if err := unix.SetNonblock(nfd, false); err != nil {
		unix.Close(nfd)
		return errors.Wrap(err, "can't set blocking")
	}
	f := os.NewFile(uintptr(nfd), "hci")
	defer f.Close()

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{f}
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "can't start %s", args[0])
	}
	log.Infof("host stack %s running as pid %d", args[0], cmd.Process.Pid)

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case err := <-exited:
		return errors.Wrapf(err, "%s exited", args[0])
	case s := <-sig:
		log.Infof("%v, stopping host stack", s)
		cmd.Process.Signal(s)
		return <-exited
	}
}
