// Copyright (c) 2017 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/confidential-containers/virtsupervisor/supervisor/persist/fs"
	"github.com/confidential-containers/virtsupervisor/supervisor/utils"
)

const testVMID = "7f49d00d-1995-4156-8c79-5f5ab24ce138"
const testKernel = "kernel"
const testInitrd = "initrd"
const testImage = "image"
const testHypervisor = "hypervisor"
const testJailer = "jailer"
const testVirtiofsd = "virtiofsd"
const testBundle = "bundle"

const testDisabledAsNonRoot = "Test disabled as requires root privileges"

// package variables set in TestMain
var testDir = ""
var vmDirState = ""
var testClhKernelPath = ""
var testClhImagePath = ""
var testClhPath = ""
var testFcKernelPath = ""
var testFcInitrdPath = ""
var testFcPath = ""
var testFcJailerPath = ""
var testVirtiofsdPath = ""

func setupClh() {
	os.Mkdir(filepath.Join(testDir, testBundle), DirMode)

	for _, filename := range []string{testClhKernelPath, testClhImagePath, testClhPath, testVirtiofsdPath} {
		_, err := os.Create(filename)
		if err != nil {
			fmt.Printf("Could not recreate %s:%v", filename, err)
			os.Exit(1)
		}
	}
}

func setupFc() {
	os.Mkdir(filepath.Join(testDir, testBundle), DirMode)

	for _, filename := range []string{testFcKernelPath, testFcInitrdPath, testFcPath, testFcJailerPath} {
		_, err := os.Create(filename)
		if err != nil {
			fmt.Printf("Could not recreate %s:%v", filename, err)
			os.Exit(1)
		}
	}
}

// TestMain is the common main function used by ALL the test functions
// for this package.
func TestMain(m *testing.M) {
	var err error

	flag.Parse()

	logger := logrus.NewEntry(logrus.New())
	logger.Logger.Level = logrus.ErrorLevel
	for _, arg := range flag.Args() {
		if arg == "debug-logs" {
			logger.Logger.Level = logrus.DebugLevel
		}
	}
	SetHypervisorLogger(logger)

	testDir, err = os.MkdirTemp("", "virtsupervisor-tmp-")
	if err != nil {
		panic(err)
	}

	fs.EnableMockTesting(filepath.Join(testDir, "mockfs"))

	fmt.Printf("INFO: Creating supervisor test directory %s\n", testDir)
	err = os.MkdirAll(testDir, DirMode)
	if err != nil {
		fmt.Println("Could not create test directories:", err)
		os.Exit(1)
	}

	utils.StartCmd = func(c *exec.Cmd) error {
		// StartVM checks that the VMM is alive, and that check
		// probes the PID. Make it probe our own.
		c.Process = &os.Process{Pid: os.Getpid()}
		return nil
	}

	testVirtiofsdPath = filepath.Join(testDir, testBundle, testVirtiofsd)
	testClhKernelPath = filepath.Join(testDir, testBundle, testKernel)
	testClhImagePath = filepath.Join(testDir, testBundle, testImage)
	testClhPath = filepath.Join(testDir, testBundle, testHypervisor)

	setupClh()

	testFcKernelPath = filepath.Join(testDir, testBundle, testKernel)
	testFcInitrdPath = filepath.Join(testDir, testBundle, testInitrd)
	testFcPath = filepath.Join(testDir, testBundle, testHypervisor)
	testFcJailerPath = filepath.Join(testDir, testBundle, testJailer)

	setupFc()

	// set now that the storage paths have been overridden.
	vmDirState = filepath.Join(fs.MockRunStoragePath(), testVMID)

	ret := m.Run()

	os.RemoveAll(testDir)

	os.Exit(ret)
}
