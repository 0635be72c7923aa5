package milvus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingRoundTrip(t *testing.T) {
	original := []float32{0.12, -3.4, 0, 1e-7, 42.42}

	decoded, err := BytesToEmbedding(EmbeddingToBytes(original))
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestEmbeddingRoundTripEmpty(t *testing.T) {
	decoded, err := BytesToEmbedding(EmbeddingToBytes([]float32{}))
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestBytesToEmbeddingRejectsTruncatedInput(t *testing.T) {
	data := EmbeddingToBytes([]float32{1, 2, 3})

	_, err := BytesToEmbedding(data[:len(data)-1])
	require.Error(t, err)
}
