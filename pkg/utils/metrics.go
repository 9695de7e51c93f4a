// Copyright (c) 2020 Ant Financial
// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

// Package utils fills prometheus gauge vectors from procfs readings of
// the VMM process. Label values are stable; dashboards key on them.
package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"
)

// SetGaugeVecNetDev sets the per-interface counters from one
// /proc/<pid>/net/dev line.
func SetGaugeVecNetDev(gv *prometheus.GaugeVec, v procfs.NetDevLine) {
	for item, value := range map[string]uint64{
		"recv_bytes":      v.RxBytes,
		"recv_packets":    v.RxPackets,
		"recv_errs":       v.RxErrors,
		"recv_drop":       v.RxDropped,
		"recv_compressed": v.RxCompressed,
		"recv_fifo":       v.RxFIFO,
		"recv_frame":      v.RxFrame,
		"recv_multicast":  v.RxMulticast,
		"sent_bytes":      v.TxBytes,
		"sent_packets":    v.TxPackets,
		"sent_errs":       v.TxErrors,
		"sent_drop":       v.TxDropped,
		"sent_colls":      v.TxCollisions,
		"sent_carrier":    v.TxCarrier,
		"sent_compressed": v.TxCompressed,
		"sent_fifo":       v.TxFIFO,
	} {
		gv.WithLabelValues(v.Name, item).Set(float64(value))
	}
}

// SetGaugeVecProcStatus sets the memory and context-switch items from
// /proc/<pid>/status.
func SetGaugeVecProcStatus(gv *prometheus.GaugeVec, procStatus procfs.ProcStatus) {
	for item, value := range map[string]uint64{
		"vmpeak":       procStatus.VmPeak,
		"vmsize":       procStatus.VmSize,
		"vmlck":        procStatus.VmLck,
		"vmpin":        procStatus.VmPin,
		"vmhwm":        procStatus.VmHWM,
		"vmrss":        procStatus.VmRSS,
		"rssanon":      procStatus.RssAnon,
		"rssfile":      procStatus.RssFile,
		"rssshmem":     procStatus.RssShmem,
		"vmdata":       procStatus.VmData,
		"vmstk":        procStatus.VmStk,
		"vmexe":        procStatus.VmExe,
		"vmlib":        procStatus.VmLib,
		"vmpte":        procStatus.VmPTE,
		"vmswap":       procStatus.VmSwap,
		"hugetlbpages": procStatus.HugetlbPages,
	} {
		gv.WithLabelValues(item).Set(float64(value))
	}

	gv.WithLabelValues("voluntary_ctxt_switches").Set(float64(procStatus.VoluntaryCtxtSwitches))
	gv.WithLabelValues("nonvoluntary_ctxt_switches").Set(float64(procStatus.NonVoluntaryCtxtSwitches))
}

// SetGaugeVecProcIO sets the I/O accounting items from
// /proc/<pid>/io.
func SetGaugeVecProcIO(gv *prometheus.GaugeVec, ioStat procfs.ProcIO) {
	gv.WithLabelValues("rchar").Set(float64(ioStat.RChar))
	gv.WithLabelValues("wchar").Set(float64(ioStat.WChar))
	gv.WithLabelValues("syscr").Set(float64(ioStat.SyscR))
	gv.WithLabelValues("syscw").Set(float64(ioStat.SyscW))
	gv.WithLabelValues("readbytes").Set(float64(ioStat.ReadBytes))
	gv.WithLabelValues("writebytes").Set(float64(ioStat.WriteBytes))
	gv.WithLabelValues("cancelledwritebytes").Set(float64(ioStat.CancelledWriteBytes))
}

// SetGaugeVecProcStat sets the CPU time items from
// /proc/<pid>/stat.
func SetGaugeVecProcStat(gv *prometheus.GaugeVec, procStat procfs.ProcStat) {
	gv.WithLabelValues("utime").Set(float64(procStat.UTime))
	gv.WithLabelValues("stime").Set(float64(procStat.STime))
	gv.WithLabelValues("cutime").Set(float64(procStat.CUTime))
	gv.WithLabelValues("cstime").Set(float64(procStat.CSTime))
}
