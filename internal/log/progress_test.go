package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressCounts(t *testing.T) {
	p := NewProgress("sample.csv.zst", 100)

	n, err := p.Write(make([]byte, 30))
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	p.Add(20)
	assert.Equal(t, int64(50), p.Bytes())

	p.Finish()
}

func TestProgressUnknownTotal(t *testing.T) {
	p := NewProgress("stream", 0)
	p.Add(1 << 20)
	assert.Equal(t, int64(1<<20), p.Bytes())
	p.Finish()
}
