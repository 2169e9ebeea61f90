package scomm

// ConfigOption is an interface which the config should implement to allow using configuration options
type ConfigOption interface {
	SetDeviceNodes(nodes ...string) error
	SetUart(path string) error
	SetUartOnly(bool) error
	SetNoSleep(bool) error
	SetSnoop(path string, save bool) error
	SetCPLog(enable, slice bool) error
	SetDriverLog(bool) error
	SetNVDir(dir string) error
	SetBootNode(path string) error
	SetWakeNode(path string) error
}

// An Option is a configuration function, which configures the transport.
type Option func(ConfigOption) error

// OptDeviceNodes sets the USB/SDIO device nodes, in port order.
func OptDeviceNodes(nodes ...string) Option {
	return func(opt ConfigOption) error {
		return opt.SetDeviceNodes(nodes...)
	}
}

// OptUart selects a single UART port 0 on path.
func OptUart(path string) Option {
	return func(opt ConfigOption) error {
		return opt.SetUart(path)
	}
}

// OptUartOnly disables the boot and wake side channels of a UART deployment.
func OptUartOnly(only bool) Option {
	return func(opt ConfigOption) error {
		return opt.SetUartOnly(only)
	}
}

// OptNoSleep disables the wake byte written on every host packet.
func OptNoSleep(noSleep bool) Option {
	return func(opt ConfigOption) error {
		return opt.SetNoSleep(noSleep)
	}
}

// OptSnoop enables btsnoop capture to path.
func OptSnoop(path string, save bool) Option {
	return func(opt ConfigOption) error {
		return opt.SetSnoop(path, save)
	}
}

// OptCPLog enables the controller diagnostic log.
func OptCPLog(enable, slice bool) Option {
	return func(opt ConfigOption) error {
		return opt.SetCPLog(enable, slice)
	}
}

// OptDriverLog toggles verbose driver logging
func OptDriverLog(enable bool) Option {
	return func(opt ConfigOption) error {
		return opt.SetDriverLog(enable)
	}
}

// OptNVDir overrides the directory holding the NV binaries.
func OptNVDir(dir string) Option {
	return func(opt ConfigOption) error {
		return opt.SetNVDir(dir)
	}
}

func OptBootNode(path string) Option {
	return func(opt ConfigOption) error {
		return opt.SetBootNode(path)
	}
}

func OptWakeNode(path string) Option {
	return func(opt ConfigOption) error {
		return opt.SetWakeNode(path)
	}
}
