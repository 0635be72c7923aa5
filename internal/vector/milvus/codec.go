package milvus

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EmbeddingToBytes serializes an embedding as little-endian float32 words,
// for durable storage outside the vector index.
func EmbeddingToBytes(embedding []float32) []byte {
	buf := make([]byte, 4*len(embedding))
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// BytesToEmbedding is the inverse of EmbeddingToBytes.
func BytesToEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("embedding byte length %d is not a multiple of 4", len(data))
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return embedding, nil
}
