// Copyright (c) 2018-2021 Intel Corporation
// Copyright (c) 2018 HyperHQ Inc.
// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package hvconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/confidential-containers/virtsupervisor/pkg/device/config"
	"github.com/confidential-containers/virtsupervisor/supervisor"
)

// The TOML configuration file contains a number of sections (or
// tables). The names of these tables are in dotted ("nested table")
// form:
//
//	[<component>.<type>]
//
// The only component is hypervisor. The currently supported types are
// listed below:
const (
	// supported hypervisor component types
	clhHypervisorTableType         = "clh"
	firecrackerHypervisorTableType = "firecracker"
	kvmHypervisorTableType         = "kvm"
)

const defaultHypervisor = supervisor.ClhHypervisor

var hvconfigLogger = logrus.NewEntry(logrus.New())

// SetLogger sets the logger for the configuration loader.
func SetLogger(logger *logrus.Entry) {
	hvconfigLogger = logger.WithField("source", "hvconfig")
}

// RuntimeConfig is the hypervisor selection plus everything the
// supervisor needs to boot VMs with it.
type RuntimeConfig struct {
	HypervisorType   supervisor.HypervisorType
	HypervisorConfig supervisor.HypervisorConfig

	// Debug mirrors the [runtime] debug switch.
	Debug bool

	// Trace enables span emission; the jaeger fields locate the
	// collector traces are shipped to.
	Trace          bool
	JaegerEndpoint string
	JaegerUser     string
	JaegerPassword string
}

type tomlConfig struct {
	Hypervisor map[string]hypervisor
	Runtime    runtime
}

type hypervisor struct {
	Path                 string   `toml:"path"`
	JailerPath           string   `toml:"jailer_path"`
	Kernel               string   `toml:"kernel"`
	Initrd               string   `toml:"initrd"`
	Image                string   `toml:"image"`
	Firmware             string   `toml:"firmware"`
	KernelParams         string   `toml:"kernel_params"`
	BlockDeviceDriver    string   `toml:"block_device_driver"`
	EntropySource        string   `toml:"entropy_source"`
	SharedFS             string   `toml:"shared_fs"`
	VirtioFSDaemon       string   `toml:"virtio_fs_daemon"`
	VirtioFSCache        string   `toml:"virtio_fs_cache"`
	VirtioFSExtraArgs    []string `toml:"virtio_fs_extra_args"`
	VirtioFSCacheSize    uint32   `toml:"virtio_fs_cache_size"`
	NumVCPUs             int32    `toml:"default_vcpus"`
	DefaultMaxVCPUs      uint32   `toml:"default_maxvcpus"`
	MemorySize           uint32   `toml:"default_memory"`
	MemorySizeStr        string   `toml:"default_memory_size"`
	MemSlots             uint32   `toml:"memory_slots"`
	RxRateLimiterMaxRate uint64   `toml:"rx_rate_limiter_max_rate"`
	TxRateLimiterMaxRate uint64   `toml:"tx_rate_limiter_max_rate"`
	Debug                bool     `toml:"enable_debug"`
	ConfidentialGuest    bool     `toml:"confidential_guest"`
	DisableSeccomp       bool     `toml:"disable_seccomp"`
	DisableNestingChecks bool     `toml:"disable_nesting_checks"`
}

type runtime struct {
	JaegerEndpoint string `toml:"jaeger_endpoint"`
	JaegerUser     string `toml:"jaeger_user"`
	JaegerPassword string `toml:"jaeger_password"`
	Debug          bool   `toml:"enable_debug"`
	Tracing        bool   `toml:"enable_tracing"`
}

func (h hypervisor) path(defaultPath string) (string, error) {
	p := h.Path

	if h.Path == "" {
		p = defaultPath
	}

	return ResolvePath(p)
}

func (h hypervisor) jailerPath() (string, error) {
	p := h.JailerPath

	if h.JailerPath == "" {
		return "", nil
	}

	return ResolvePath(p)
}

func (h hypervisor) kernel() (string, error) {
	p := h.Kernel

	if p == "" {
		p = defaultKernelPath
	}

	return ResolvePath(p)
}

func (h hypervisor) initrd() (string, error) {
	p := h.Initrd

	if p == "" {
		return "", errors.New("initrd is not set")
	}

	return ResolvePath(p)
}

func (h hypervisor) image() (string, error) {
	p := h.Image

	if p == "" {
		return "", errors.New("image is not set")
	}

	return ResolvePath(p)
}

func (h hypervisor) firmware() (string, error) {
	p := h.Firmware

	if p == "" {
		if defaultFirmwarePath == "" {
			return "", nil
		}
		p = defaultFirmwarePath
	}

	return ResolvePath(p)
}

func (h hypervisor) kernelParams() string {
	if h.KernelParams == "" {
		return defaultKernelParams
	}

	return h.KernelParams
}

func (h hypervisor) getInitrdAndImage() (initrd string, image string, err error) {
	initrd, errInitrd := h.initrd()

	image, errImage := h.image()

	if image != "" && initrd != "" {
		return "", "", errors.New("having both an image and an initrd defined in the configuration file is not supported")
	}

	if errInitrd != nil && errImage != nil {
		return "", "", fmt.Errorf("either initrd or image must be set to a valid path (initrd: %v) (image: %v)", errInitrd, errImage)
	}

	return
}

func (h hypervisor) getEntropySource() string {
	if h.EntropySource == "" {
		return defaultEntropySource
	}

	return h.EntropySource
}

func (h hypervisor) defaultVCPUs() uint32 {
	numCPUs := goruntime.NumCPU()

	if h.NumVCPUs < 0 || h.NumVCPUs > int32(numCPUs) {
		return uint32(numCPUs)
	}
	if h.NumVCPUs == 0 { // or unspecified
		return defaultVCPUCount
	}

	return uint32(h.NumVCPUs)
}

func (h hypervisor) defaultMaxVCPUs() uint32 {
	numcpus := uint32(goruntime.NumCPU())
	reqVCPUs := h.DefaultMaxVCPUs

	// do not exceed the number of physical CPUs. If a default is not
	// provided, use the number of physical CPUs.
	if reqVCPUs >= numcpus || reqVCPUs == 0 {
		reqVCPUs = numcpus
	}

	return reqVCPUs
}

// defaultMemSz resolves the configured VM memory in MiB. The
// default_memory_size form accepts human readable sizes ("2GiB",
// "512MB") and takes precedence over the plain MiB count.
func (h hypervisor) defaultMemSz() (uint32, error) {
	if h.MemorySizeStr != "" {
		bytes, err := units.RAMInBytes(h.MemorySizeStr)
		if err != nil {
			return 0, fmt.Errorf("invalid default_memory_size %q: %w", h.MemorySizeStr, err)
		}

		mib := uint32(bytes >> 20)
		if mib < supervisor.MinHypervisorMemory {
			return 0, fmt.Errorf("default_memory_size %q is below the %d MiB minimum",
				h.MemorySizeStr, supervisor.MinHypervisorMemory)
		}

		return mib, nil
	}

	if h.MemorySize < supervisor.MinHypervisorMemory {
		return defaultMemSize, nil // MiB
	}

	return h.MemorySize, nil
}

func (h hypervisor) defaultMemSlots() uint32 {
	slots := h.MemSlots
	if slots == 0 {
		slots = defaultMemSlots
	}

	return slots
}

func (h hypervisor) defaultVirtioFSCache() string {
	if h.VirtioFSCache == "" {
		return defaultVirtioFSCacheMode
	}

	return h.VirtioFSCache
}

func (h hypervisor) blockDeviceDriver() (string, error) {
	supportedBlockDrivers := []string{config.VirtioBlock, config.VirtioSCSI, config.VirtioMmio}

	if h.BlockDeviceDriver == "" {
		return defaultBlockDeviceDriver, nil
	}

	for _, b := range supportedBlockDrivers {
		if b == h.BlockDeviceDriver {
			return h.BlockDeviceDriver, nil
		}
	}

	return "", fmt.Errorf("invalid hypervisor block storage driver %v specified (supported drivers: %v)", h.BlockDeviceDriver, supportedBlockDrivers)
}

func (h hypervisor) sharedFS() (string, error) {
	if h.SharedFS == "" || h.SharedFS == config.VirtioFS {
		return h.SharedFS, nil
	}

	return "", fmt.Errorf("invalid hypervisor shared file system %v specified (only %v is supported)", h.SharedFS, config.VirtioFS)
}

func newClhHypervisorConfig(h hypervisor) (supervisor.HypervisorConfig, error) {
	hypervisorPath, err := h.path(defaultClhPath)
	if err != nil {
		return supervisor.HypervisorConfig{}, err
	}

	kernel, err := h.kernel()
	if err != nil {
		return supervisor.HypervisorConfig{}, err
	}

	initrd, image, err := h.getInitrdAndImage()
	if err != nil {
		return supervisor.HypervisorConfig{}, err
	}

	firmware, err := h.firmware()
	if err != nil {
		return supervisor.HypervisorConfig{}, err
	}

	kernelParams := h.kernelParams()

	blockDriver, err := h.blockDeviceDriver()
	if err != nil {
		return supervisor.HypervisorConfig{}, err
	}

	sharedFS, err := h.sharedFS()
	if err != nil {
		return supervisor.HypervisorConfig{}, err
	}

	if sharedFS == config.VirtioFS && h.VirtioFSDaemon == "" {
		return supervisor.HypervisorConfig{},
			errors.New("cannot enable virtio-fs without daemon path in configuration file")
	}

	memSz, err := h.defaultMemSz()
	if err != nil {
		return supervisor.HypervisorConfig{}, err
	}

	return supervisor.HypervisorConfig{
		HypervisorPath:    hypervisorPath,
		KernelPath:        kernel,
		InitrdPath:        initrd,
		ImagePath:         image,
		FirmwarePath:      firmware,
		KernelParams:      supervisor.DeserializeParams(strings.Fields(kernelParams)),
		NumVCPUs:          h.defaultVCPUs(),
		DefaultMaxVCPUs:   h.defaultMaxVCPUs(),
		MemorySize:        memSz,
		MemSlots:          h.defaultMemSlots(),
		EntropySource:     h.getEntropySource(),
		BlockDeviceDriver: blockDriver,
		SharedFS:          sharedFS,
		VirtioFSDaemon:    h.VirtioFSDaemon,
		VirtioFSCache:     h.defaultVirtioFSCache(),
		VirtioFSCacheSize: h.VirtioFSCacheSize,
		VirtioFSExtraArgs: h.VirtioFSExtraArgs,
		Debug:             h.Debug,
		ConfidentialGuest: h.ConfidentialGuest,
		DisableSeccomp:    h.DisableSeccomp,
	}, nil
}

func newFirecrackerHypervisorConfig(h hypervisor) (supervisor.HypervisorConfig, error) {
	hypervisorPath, err := h.path(defaultFirecrackerPath)
	if err != nil {
		return supervisor.HypervisorConfig{}, err
	}

	jailer, err := h.jailerPath()
	if err != nil {
		return supervisor.HypervisorConfig{}, err
	}

	kernel, err := h.kernel()
	if err != nil {
		return supervisor.HypervisorConfig{}, err
	}

	initrd, image, err := h.getInitrdAndImage()
	if err != nil {
		return supervisor.HypervisorConfig{}, err
	}

	kernelParams := h.kernelParams()

	blockDriver, err := h.blockDeviceDriver()
	if err != nil {
		return supervisor.HypervisorConfig{}, err
	}

	memSz, err := h.defaultMemSz()
	if err != nil {
		return supervisor.HypervisorConfig{}, err
	}

	return supervisor.HypervisorConfig{
		HypervisorPath:       hypervisorPath,
		JailerPath:           jailer,
		Jailed:               jailer != "",
		KernelPath:           kernel,
		InitrdPath:           initrd,
		ImagePath:            image,
		KernelParams:         supervisor.DeserializeParams(strings.Fields(kernelParams)),
		NumVCPUs:             h.defaultVCPUs(),
		DefaultMaxVCPUs:      h.defaultMaxVCPUs(),
		MemorySize:           memSz,
		MemSlots:             h.defaultMemSlots(),
		EntropySource:        h.getEntropySource(),
		BlockDeviceDriver:    blockDriver,
		RxRateLimiterMaxRate: h.RxRateLimiterMaxRate,
		TxRateLimiterMaxRate: h.TxRateLimiterMaxRate,
		Debug:                h.Debug,
		DisableSeccomp:       h.DisableSeccomp,
	}, nil
}

func newKvmHypervisorConfig(h hypervisor) (supervisor.HypervisorConfig, error) {
	kernel, err := h.kernel()
	if err != nil {
		return supervisor.HypervisorConfig{}, err
	}

	initrd, image, err := h.getInitrdAndImage()
	if err != nil {
		return supervisor.HypervisorConfig{}, err
	}

	kernelParams := h.kernelParams()

	memSz, err := h.defaultMemSz()
	if err != nil {
		return supervisor.HypervisorConfig{}, err
	}

	// The in-process backend runs no external VMM, a hypervisor path
	// in its table is ignored.
	return supervisor.HypervisorConfig{
		KernelPath:           kernel,
		InitrdPath:           initrd,
		ImagePath:            image,
		KernelParams:         supervisor.DeserializeParams(strings.Fields(kernelParams)),
		NumVCPUs:             h.defaultVCPUs(),
		DefaultMaxVCPUs:      h.defaultMaxVCPUs(),
		MemorySize:           memSz,
		MemSlots:             h.defaultMemSlots(),
		EntropySource:        h.getEntropySource(),
		Debug:                h.Debug,
		ConfidentialGuest:    h.ConfidentialGuest,
		DisableNestingChecks: h.DisableNestingChecks,
	}, nil
}

func updateConfigHypervisor(configPath string, tomlConf tomlConfig, config *RuntimeConfig) error {
	for k, hypervisor := range tomlConf.Hypervisor {
		var err error
		var hConfig supervisor.HypervisorConfig

		switch k {
		case clhHypervisorTableType:
			config.HypervisorType = supervisor.ClhHypervisor
			hConfig, err = newClhHypervisorConfig(hypervisor)
		case firecrackerHypervisorTableType:
			config.HypervisorType = supervisor.FirecrackerHypervisor
			hConfig, err = newFirecrackerHypervisorConfig(hypervisor)
		case kvmHypervisorTableType:
			config.HypervisorType = supervisor.KvmHypervisor
			hConfig, err = newKvmHypervisorConfig(hypervisor)
		default:
			return fmt.Errorf("%v: configuration file contains unknown hypervisor table %q", configPath, k)
		}

		if err != nil {
			return fmt.Errorf("%v: %v", configPath, err)
		}

		config.HypervisorConfig = hConfig
	}

	return nil
}

// GetDefaultHypervisorConfig returns the built-in defaults for the
// default hypervisor, before any configuration file is applied.
func GetDefaultHypervisorConfig() supervisor.HypervisorConfig {
	return supervisor.HypervisorConfig{
		HypervisorPath:    defaultClhPath,
		KernelPath:        defaultKernelPath,
		ImagePath:         defaultImagePath,
		NumVCPUs:          defaultVCPUCount,
		DefaultMaxVCPUs:   defaultMaxVCPUCount,
		MemorySize:        defaultMemSize,
		MemSlots:          defaultMemSlots,
		EntropySource:     defaultEntropySource,
		BlockDeviceDriver: defaultBlockDeviceDriver,
		VirtioFSCache:     defaultVirtioFSCacheMode,
		Debug:             defaultEnableDebug,
	}
}

func initConfig() RuntimeConfig {
	return RuntimeConfig{
		HypervisorType:   defaultHypervisor,
		HypervisorConfig: GetDefaultHypervisorConfig(),
	}
}

// LoadConfiguration loads the configuration file at configPath and
// returns the resolved path together with the runtime configuration it
// describes. An empty configPath falls back to the first usable file
// from GetDefaultConfigFilePaths.
func LoadConfiguration(configPath string) (resolvedConfigPath string, config RuntimeConfig, err error) {
	config = initConfig()

	tomlConf, resolved, err := decodeConfig(configPath)
	if err != nil {
		return "", RuntimeConfig{}, err
	}

	config.Debug = tomlConf.Runtime.Debug
	config.Trace = tomlConf.Runtime.Tracing
	config.JaegerEndpoint = tomlConf.Runtime.JaegerEndpoint
	config.JaegerUser = tomlConf.Runtime.JaegerUser
	config.JaegerPassword = tomlConf.Runtime.JaegerPassword

	hvconfigLogger.WithFields(
		logrus.Fields{
			"format": "TOML",
			"file":   resolved,
		}).Info("loaded configuration")

	if err := updateConfigHypervisor(resolved, tomlConf, &config); err != nil {
		return "", config, err
	}

	if err := config.HypervisorConfig.Valid(); err != nil {
		return "", config, err
	}

	return resolved, config, nil
}

func decodeConfig(configPath string) (tomlConfig, string, error) {
	var (
		resolved string
		tomlConf tomlConfig
		err      error
	)

	if configPath == "" {
		resolved, err = getDefaultConfigFile()
	} else {
		resolved, err = ResolvePath(configPath)
	}

	if err != nil {
		return tomlConf, "", fmt.Errorf("cannot find usable config file (%v)", err)
	}

	configData, err := os.ReadFile(resolved)
	if err != nil {
		return tomlConf, resolved, err
	}

	_, err = toml.Decode(string(configData), &tomlConf)
	if err != nil {
		return tomlConf, resolved, err
	}

	return tomlConf, resolved, nil
}

// GetDefaultConfigFilePaths returns the paths checked for a
// configuration file, in priority order.
func GetDefaultConfigFilePaths() []string {
	return []string{
		// normal user-defined config overrides the stateless one
		defaultSysConfRuntimeConfiguration,

		// normal config file used by stateless system
		defaultRuntimeConfiguration,
	}
}

func getDefaultConfigFile() (string, error) {
	var errs []string

	for _, f := range GetDefaultConfigFilePaths() {
		resolved, err := ResolvePath(f)
		if err == nil {
			return resolved, nil
		}
		s := fmt.Sprintf("config file %q unresolvable: %v", f, err)
		errs = append(errs, s)
	}

	return "", errors.New(strings.Join(errs, ", "))
}

// ResolvePath returns the fully resolved and expanded value of the
// specified path.
func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("path must be specified")
	}

	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(absolute)
	if err != nil {
		if os.IsNotExist(err) {
			// Make the error clearer than the default
			return "", fmt.Errorf("file %v does not exist", absolute)
		}

		return "", err
	}

	return resolved, nil
}
