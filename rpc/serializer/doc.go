// Package serializer converts side-channel messages to bytes and back. It defines a common interface
// and three implementations that can be selected with the --serializer flag. Both ends of a side
// channel must use the same serializer.
//
// Key Components:
//
//   - IMessageSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Custom binary format and the default. A flag byte records which optional
//     fields (slot configuration, queue configuration, reason) follow, so most messages are two bytes.
//     Decoding is strict: unknown flags, truncated fields and trailing bytes are rejected, which lets
//     the side channel classify garbage from a peer as a protocol error.
//
//   - jsonSerializerImpl: JSON encoding, human readable, useful for debugging.
//
//   - gobSerializerImpl: Go's gob encoding. Considerably larger messages, kept for completeness.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use.
//
// Usage:
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.Serialize(*common.NewStartListening())
//	// ... send data ...
//	var msg common.Message
//	err = s.Deserialize(data, &msg)
package serializer
