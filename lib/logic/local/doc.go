// Package local implements the reference logic engine used by the memcon daemon.
//
// All bookkeeping (slot states, holders, class limits) lives in process memory and is guarded by a
// mutex. The only state shared with receivers are two single-producer single-consumer queues per
// receiver, both placed in shared memory:
//
//   - the delivery queue, allocated by the server: SendSlot pushes the index of every delivered slot.
//   - the return queue, allocated by the receiver: the receiver pushes the index of every slot it is
//     done with, ReclaimSlots drains it.
//
// A receiver that returns a slot it does not hold, or a slot index outside of the slot region, is
// flagged as corrupted and reported by DetectCorruption.
//
// Queue is exported so that receivers (see rpc/client) can operate on the same memory layout.
//
// Per class delivery counters are kept in a go-metrics registry and reported by Stats.
package local
