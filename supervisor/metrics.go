// Copyright (c) 2020 Ant Financial
// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"

	mutils "github.com/confidential-containers/virtsupervisor/pkg/utils"
)

const metricsNamespace = "virtsupervisor"

var (
	hypervisorThreads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "hypervisor",
		Name:      "threads",
		Help:      "VMM process threads.",
	})

	hypervisorProcStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "hypervisor",
		Name:      "proc_status",
		Help:      "VMM process status.",
	},
		[]string{"item"},
	)

	hypervisorProcStat = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "hypervisor",
		Name:      "proc_stat",
		Help:      "VMM process statistics.",
	},
		[]string{"item"},
	)

	hypervisorNetdev = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "hypervisor",
		Name:      "netdev",
		Help:      "Net devices statistics.",
	},
		[]string{"interface", "item"},
	)

	hypervisorIOStat = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "hypervisor",
		Name:      "io_stat",
		Help:      "VMM process IO statistics.",
	},
		[]string{"item"},
	)

	hypervisorOpenFDs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "hypervisor",
		Name:      "fds",
		Help:      "Open FDs of the VMM process.",
	})
)

// RegisterMetrics registers the VMM process collectors with the default
// prometheus registry. Call it once per process.
func RegisterMetrics() {
	prometheus.MustRegister(hypervisorThreads)
	prometheus.MustRegister(hypervisorProcStatus)
	prometheus.MustRegister(hypervisorProcStat)
	prometheus.MustRegister(hypervisorNetdev)
	prometheus.MustRegister(hypervisorIOStat)
	prometheus.MustRegister(hypervisorOpenFDs)
}

// UpdateRuntimeMetrics refreshes the VMM process gauges from procfs.
// The in-process backend reports the supervising process itself.
func (lc *LifecycleController) UpdateRuntimeMetrics() error {
	pids := lc.hypervisor.GetPids()
	if len(pids) == 0 || pids[0] <= 0 {
		return nil
	}

	proc, err := procfs.NewProc(pids[0])
	if err != nil {
		return err
	}

	if fds, err := proc.FileDescriptorsLen(); err == nil {
		hypervisorOpenFDs.Set(float64(fds))
	}

	if netdev, err := proc.NetDev(); err == nil {
		for _, line := range netdev {
			mutils.SetGaugeVecNetDev(hypervisorNetdev, line)
		}
	}

	if stat, err := proc.Stat(); err == nil {
		hypervisorThreads.Set(float64(stat.NumThreads))
		mutils.SetGaugeVecProcStat(hypervisorProcStat, stat)
	}

	if status, err := proc.NewStatus(); err == nil {
		mutils.SetGaugeVecProcStatus(hypervisorProcStatus, status)
	}

	if io, err := proc.IO(); err == nil {
		mutils.SetGaugeVecProcIO(hypervisorIOStat, io)
	}

	return nil
}
