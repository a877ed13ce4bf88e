package progress

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_ReportsEveryIntervalAndAtEOF(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 25)

	var reports []int64

	pr := NewReader(iotest.OneByteReader(bytes.NewReader(data)), int64(len(data)), 10, func(read, total int64) {
		assert.EqualValues(t, 25, total)
		reports = append(reports, read)
	})

	out, err := io.ReadAll(pr)
	require.NoError(t, err)

	assert.Equal(t, data, out)
	assert.Equal(t, []int64{10, 20, 25}, reports)
	assert.EqualValues(t, 25, pr.BytesRead())
}

func TestReader_NoDuplicateReportAtEOF(t *testing.T) {
	var reports []int64

	pr := NewReader(iotest.OneByteReader(bytes.NewReader(make([]byte, 20))), -1, 10, func(read, _ int64) {
		reports = append(reports, read)
	})

	_, err := io.ReadAll(pr)
	require.NoError(t, err)

	assert.Equal(t, []int64{10, 20}, reports)
}
