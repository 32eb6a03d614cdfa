// Package util contains small concurrency helpers shared by the transport and server packages.
//
// MPSCQueue is an unbounded multi-producer single-consumer queue. Producers append with a lock-free
// compare-and-swap on the tail of a linked list, a single consumer goroutine owned by the queue moves
// the values onto a channel. The transport layer uses it as the event queue of its reactor: every
// connection reader pushes inbound packets, the reactor goroutine is the only consumer, which gives
// all side-channel callbacks a total order.
package util
