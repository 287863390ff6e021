package logging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecentBuffer_KeepsMostRecentLines(t *testing.T) {
	buf := NewRecentBuffer(3)

	for i := 1; i <= 5; i++ {
		_, err := buf.Write([]byte(fmt.Sprintf("line %d\n", i)))
		require.NoError(t, err)
	}

	assert.Equal(t, 3, buf.Len())
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, buf.Snapshot(0))
}

func TestRecentBuffer_SnapshotLimit(t *testing.T) {
	buf := NewRecentBuffer(10)

	for i := 1; i <= 4; i++ {
		_, err := buf.Write([]byte(fmt.Sprintf("line %d\n", i)))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"line 3", "line 4"}, buf.Snapshot(2))
	assert.Equal(t, []string{"line 1", "line 2", "line 3", "line 4"}, buf.Snapshot(100))
}

func TestRecentBuffer_StripsANSIColors(t *testing.T) {
	buf := NewRecentBuffer(5)

	_, err := buf.Write([]byte("\033[97;42m[INFO]\033[0m tunnel created\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"[INFO] tunnel created"}, buf.Snapshot(0))
}

func TestRecentBuffer_IgnoresEmptyWrites(t *testing.T) {
	buf := NewRecentBuffer(5)

	_, err := buf.Write([]byte("\n"))
	require.NoError(t, err)

	assert.Equal(t, 0, buf.Len())
	assert.Empty(t, buf.Snapshot(0))
}
