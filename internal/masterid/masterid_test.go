package masterid_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scarson/poolmaster/internal/masterid"
)

func TestCapture_RecordsCurrentPid(t *testing.T) {
	id := masterid.Capture()
	assert.Equal(t, os.Getpid(), id.Pid())
}

func TestIsMaster_TrueInCapturingProcess(t *testing.T) {
	id := masterid.Capture()
	assert.True(t, id.IsMaster())
}

func TestCapture_EachCallIsIndependent(t *testing.T) {
	a := masterid.Capture()
	b := masterid.Capture()
	assert.Equal(t, a.Pid(), b.Pid(), "both captured in the same process")
	assert.NotSame(t, a, b)
}
