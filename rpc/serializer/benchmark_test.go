package serializer

import (
	"testing"

	"github.com/ValentinKolb/memcon/rpc/common"
)

// BenchmarkSerialize benchmarks serialization for all implementations with every message kind
func BenchmarkSerialize(b *testing.B) {
	for name, factory := range testSerializers {
		for _, msg := range testMessages() {
			b.Run(name+"_"+msg.MsgType.String(), func(b *testing.B) {
				serializer := factory()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					if _, err := serializer.Serialize(msg); err != nil {
						b.Fatalf("Failed to serialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkDeserialize benchmarks deserialization for all implementations with every message kind
func BenchmarkDeserialize(b *testing.B) {
	for name, factory := range testSerializers {
		for _, msg := range testMessages() {
			serializer := factory()
			data, err := serializer.Serialize(msg)
			if err != nil {
				b.Fatalf("Failed to serialize: %v", err)
			}

			b.Run(name+"_"+msg.MsgType.String(), func(b *testing.B) {
				var result common.Message
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					if err := serializer.Deserialize(data, &result); err != nil {
						b.Fatalf("Failed to deserialize: %v", err)
					}
				}
			})
		}
	}
}
