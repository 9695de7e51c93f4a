// Copyright (c) 2016 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/containernetworking/plugins/pkg/ns"
	"github.com/safchain/ethtool"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// NetworkNamespace contains all data related to its network namespace.
type NetworkNamespace struct {
	NetNsPath    string `json:"netNsPath,omitempty"`
	NetNsCreated bool   `json:"netNsCreated"`
}

func networkLogger() *logrus.Entry {
	return hvLogger.WithField("subsystem", "network")
}

// doNetNS is free from any call to a go routine, and it calls
// into runtime.LockOSThread(), meaning it won't be executed in a
// different thread than the one expected by the caller.
func doNetNS(netNSPath string, cb func(ns.NetNS) error) error {
	// if netNSPath is empty, the callback function will be run in the current network namespace.
	// So skip the whole function, just call cb(). cb() needs a NetNS as arg but ignored, give it a fake one.
	if netNSPath == "" {
		var netNs ns.NetNS
		return cb(netNs)
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	currentNS, err := ns.GetCurrentNS()
	if err != nil {
		return err
	}
	defer currentNS.Close()

	targetNS, err := ns.GetNS(netNSPath)
	if err != nil {
		return err
	}

	if err := targetNS.Set(); err != nil {
		return err
	}
	defer currentNS.Set()

	return cb(targetNS)
}

// EnterNetNS is free from any call to a go routine, and it calls
// into runtime.LockOSThread(), meaning it won't be executed in a
// different thread than the one expected by the caller.
func EnterNetNS(netNSPath string, cb func() error) error {
	return doNetNS(netNSPath, func(nn ns.NetNS) error {
		return cb()
	})
}

// netlinkHandle returns a netlink handle bound to the given network
// namespace, or to the current one when the path is empty. The caller
// must close the returned handle.
func netlinkHandle(netNSPath string) (*netlink.Handle, error) {
	if netNSPath == "" {
		return netlink.NewHandle()
	}

	netnsHandle, err := netns.GetFromPath(netNSPath)
	if err != nil {
		return nil, err
	}
	defer netnsHandle.Close()

	return netlink.NewHandleAt(netnsHandle)
}

// createTAPDevice creates a persistent tap interface inside the given
// network namespace and brings it up. The VMM opens the tap by name, so
// the device must outlive the file descriptors netlink opened to create
// it.
func createTAPDevice(netNSPath, name string, numQueues uint32, mtu uint32) error {
	if name == "" {
		return fmt.Errorf("Empty tap interface name")
	}

	netHandle, err := netlinkHandle(netNSPath)
	if err != nil {
		return err
	}
	defer netHandle.Close()

	flags := netlink.TUNTAP_VNET_HDR | netlink.TUNTAP_NO_PI
	queues := int(numQueues)
	if queues > 1 {
		flags |= netlink.TUNTAP_MULTI_QUEUE_DEFAULTS
	} else {
		// `linkModify()`, a method called by `LinkAdd()`, only returns
		// the file descriptor of the opened tuntap device when the
		// queues are set to non zero.
		queues = 1
	}

	tapLink := &netlink.Tuntap{
		LinkAttrs: netlink.LinkAttrs{Name: name},
		Mode:      netlink.TUNTAP_MODE_TAP,
		Queues:    queues,
		Flags:     flags,
	}

	if err := netHandle.LinkAdd(tapLink); err != nil {
		return fmt.Errorf("LinkAdd() failed for tap name %s: %s", name, err)
	}

	// The tap is persistent, the creation fds are not needed anymore.
	for _, fd := range tapLink.Fds {
		fd.Close()
	}

	link, err := netHandle.LinkByName(name)
	if err != nil {
		return fmt.Errorf("LinkByName() failed for tap name %s: %s", name, err)
	}

	if mtu > 0 {
		if err := netHandle.LinkSetMTU(link, int(mtu)); err != nil {
			return fmt.Errorf("Could not set TAP MTU %d: %s", mtu, err)
		}
	}

	if err := netHandle.LinkSetUp(link); err != nil {
		return fmt.Errorf("Could not enable TAP %s: %s", name, err)
	}

	return nil
}

// removeTAPDevice deletes a tap interface previously created with
// createTAPDevice. A missing link is not an error.
func removeTAPDevice(netNSPath, name string) error {
	netHandle, err := netlinkHandle(netNSPath)
	if err != nil {
		return err
	}
	defer netHandle.Close()

	link, err := netHandle.LinkByName(name)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return nil
		}
		return err
	}

	return netHandle.LinkDel(link)
}

// tapDeviceExists reports whether a tap interface with the given name
// is present inside the network namespace.
func tapDeviceExists(netNSPath, name string) (bool, error) {
	netHandle, err := netlinkHandle(netNSPath)
	if err != nil {
		return false, err
	}
	defer netHandle.Close()

	link, err := netHandle.LinkByName(name)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return false, nil
		}
		return false, err
	}

	_, ok := link.(*netlink.Tuntap)
	return ok, nil
}

// isPhysicalIface checks if an interface is a physical device.
// We use ethtool here to not rely on device sysfs inside the network namespace.
func isPhysicalIface(ifaceName string) (bool, error) {
	if ifaceName == "lo" {
		return false, nil
	}

	ethHandle, err := ethtool.NewEthtool()
	if err != nil {
		return false, err
	}
	defer ethHandle.Close()

	bus, err := ethHandle.BusInfo(ifaceName)
	if err != nil {
		return false, nil
	}

	// Check for a pci bus format
	tokens := strings.Split(bus, ":")
	if len(tokens) != 3 {
		return false, nil
	}

	return true, nil
}

// validateNetNSPath checks the network namespace path exists before any
// process is asked to join it.
func validateNetNSPath(netNSPath string) error {
	if netNSPath == "" {
		return nil
	}

	if _, err := os.Stat(netNSPath); err != nil {
		return fmt.Errorf("Invalid network namespace path %s: %s", netNSPath, err)
	}

	return nil
}
