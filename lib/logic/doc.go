// Package logic defines the contract between the MemCon server and the logic engine that performs
// the actual slot bookkeeping.
//
// The server never touches slot state directly. It asks the engine for a slot token (AcquireSlot),
// lets the application write the slot content (AccessSlotContent) and hands the token back either by
// publishing the slot (SendSlot) or by giving it up (UnacquireSlot). Slots that every receiver has
// returned are put back into the free pool by ReclaimSlots.
//
// Receivers are grouped into classes. Each class has a limit on the number of slots its receivers may
// hold at the same time. A class that is at its limit does not get a newly sent slot; SendSlot records
// it in the DroppedInformation passed by the caller.
//
// The engine also detects receivers that misbehave on the shared memory level, for example by
// returning a slot they never held. DetectCorruption reports such receivers, the server then marks
// them as corrupted.
//
// The reference implementation lives in the local sub package.
package logic
