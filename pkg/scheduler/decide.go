package scheduler

import "github.com/mographlabs/mograph/pkg/gpuprobe"

// Reason explains how the effective concurrency was derived.
type Reason string

const (
	ReasonOK                        Reason = "OK"
	ReasonForcedSerialLowMemory     Reason = "FORCED_SERIAL_LOW_MEMORY"
	ReasonForcedSerialNoAccelerator Reason = "FORCED_SERIAL_NO_ACCELERATOR"
	ReasonCappedByCPU               Reason = "CAPPED_BY_CPU"
)

// Decision is the concurrency sizing for one scheduling cycle. Immutable
// once computed.
type Decision struct {
	Requested int
	Effective int
	Reason    Reason
}

// Decide sizes the worker pool from a fresh resource snapshot.
//
// With hardSerial set, a missing accelerator or insufficient free memory
// for the full requested width forces serial execution. Otherwise the
// request is capped by CPU core count.
func Decide(snap gpuprobe.Snapshot, requested, minFreeVRAMMB int, hardSerial bool) Decision {
	if requested < 1 {
		requested = 1
	}
	d := Decision{Requested: requested}

	if hardSerial && (snap.TotalMemoryMB == 0 || snap.FreeMemoryMB < minFreeVRAMMB*requested) {
		d.Effective = 1
		if snap.TotalMemoryMB == 0 {
			d.Reason = ReasonForcedSerialNoAccelerator
		} else {
			d.Reason = ReasonForcedSerialLowMemory
		}
		return d
	}

	cores := snap.CPUCores
	if cores < 1 {
		cores = 1
	}
	d.Effective = requested
	d.Reason = ReasonOK
	if cores < requested {
		d.Effective = cores
		d.Reason = ReasonCappedByCPU
	}
	return d
}
