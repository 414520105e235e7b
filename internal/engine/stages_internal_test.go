package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryForFlattensNestedSubdirectoryWhole(t *testing.T) {
	assert.Equal(t, "", categoryFor("/blackhole", "/blackhole/A.nzb"))
	assert.Equal(t, "Series", categoryFor("/blackhole", "/blackhole/Series/A.nzb"))
	assert.Equal(t, "Series/Sub", categoryFor("/blackhole", "/blackhole/Series/Sub/A.nzb"))
	assert.Equal(t, "Movies/2024/4K", categoryFor("/blackhole", "/blackhole/Movies/2024/4K/A.nzb"))
}
