// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package rtsched pins the calling goroutine to a real-time scheduled
// kernel thread, so the serial reader feeding the transport's resync and
// framing logic isn't starved by GC pauses or other goroutines during a
// burst of traffic.
package rtsched

import (
	"runtime"
	"syscall"
	"unsafe"
)

const (
	fifo = 1 // fifo scheduling policy
	rr   = 2 // round-robin scheduling policy
)

// priority is in the lower-middle of the round-robin range; this is a
// link-driver thread, not the whole process, so it shouldn't starve
// everything else on the box.
const priority = 10

type schedParam struct {
	Priority int
}

// Pin locks the calling goroutine to its own kernel thread and raises that
// thread to round-robin real-time scheduling. Call it as the first thing
// in a reader goroutine; it has no effect on the rest of the process.
//
// Requires CAP_SYS_NICE (or root); on failure the caller keeps running at
// normal priority, which is why errors here are worth logging but not
// fatal.
func Pin() error {
	runtime.LockOSThread()
	tid := syscall.Gettid()
	res, _, err := syscall.RawSyscall(syscall.SYS_SCHED_SETSCHEDULER, uintptr(tid),
		uintptr(rr), uintptr(unsafe.Pointer(&schedParam{priority})))
	if res == 0 {
		return nil
	}
	return err
}
