// Package client implements the receiver side of a MemCon connection.
//
// A Receiver answers the server's connection request: it maps the slot memory
// read-only, maps the delivery queue, allocates its own return queue and
// acknowledges the connection with a handle to it. Once the server confirmed the
// queue, slots delivered to the receiver are read with Poll and returned to the
// server through the return queue.
//
// Usage Example:
//
//	conn, _ := unix.Dial("/tmp/memcon.sock", 5*time.Millisecond)
//	r := client.NewReceiver(conn, serializer.NewBinarySerializer(), memory.NewMemfdManager())
//	r.Start()
//	if err := r.WaitReady(ctx); err != nil {
//	  log.Fatalf("Handshake failed: %v", err)
//	}
//	_ = r.StartListening()
//
//	for range r.Notifications() {
//	  _, _ = r.Poll(func(index uint32, content []byte) {
//	    fmt.Printf("slot %d: %q\n", index, content)
//	  })
//	}
//
// Thread Safety:
//
//	All methods except Poll are safe for concurrent use. Poll is the single
//	consumer of the delivery queue and must only be called from one goroutine.
package client
