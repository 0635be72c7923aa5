package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashQueryInvariantUnderCaseAndWhitespace(t *testing.T) {
	assert.Equal(t, HashQuery("SELECT * FROM users"), HashQuery("select * from users "))
	assert.Equal(t, HashQuery("  Tampilkan Semua  "), HashQuery("tampilkan semua"))
}

func TestHashQueryDiffersForDifferentQueries(t *testing.T) {
	assert.NotEqual(t, HashQuery("select * from users"), HashQuery("select * from orders"))
}

func TestHashQueryIsHexSHA256(t *testing.T) {
	hash := HashQuery("anything")
	assert.Len(t, hash, 64)
	assert.Regexp(t, "^[0-9a-f]+$", hash)
}

func TestHashQueryInteriorWhitespaceMatters(t *testing.T) {
	assert.NotEqual(t, HashQuery("select *"), HashQuery("select  *"))
}
