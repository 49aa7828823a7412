package paths

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeLowercasesAndStripsUnsafeChars(t *testing.T) {
	assert.Equal(t, "my-queue", Sanitize("My Queue"))
	assert.Equal(t, "a-b-c", Sanitize("a!!b::c"))
	assert.Equal(t, "queue", Sanitize("***"))
}

func TestNewSessionIDAtFormat(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	id := NewSessionIDAt("My Queue", at)
	assert.Contains(t, id, "my-queue-20260102T030405Z-")
	assert.Len(t, id, len("my-queue-20260102T030405Z-")+6)
}

func TestSessionPaths(t *testing.T) {
	s := NewSession("/tmp/cmdq", "demo-20260101T000000Z-abcdef")

	assert.Equal(t, "/tmp/cmdq/demo-20260101T000000Z-abcdef", s.Root())
	assert.Equal(t, "/tmp/cmdq/demo-20260101T000000Z-abcdef/demo-20260101T000000Z-abcdef.sh", s.ScriptPath())
	assert.Equal(t, "/tmp/cmdq/demo-20260101T000000Z-abcdef/job_info", s.JobInfoDpath())
	assert.Equal(t, "/tmp/cmdq/demo-20260101T000000Z-abcdef/logs", s.LogsDpath())

	jp := s.JobPathsFor("build")
	assert.Equal(t, "/tmp/cmdq/demo-20260101T000000Z-abcdef/job_info/build.pass", jp.PassFpath)
	assert.Equal(t, "/tmp/cmdq/demo-20260101T000000Z-abcdef/job_info/build.fail", jp.FailFpath)
	assert.Equal(t, "/tmp/cmdq/demo-20260101T000000Z-abcdef/job_info/build.stat", jp.StatFpath)
	assert.Equal(t, "/tmp/cmdq/demo-20260101T000000Z-abcdef/logs/build.log", jp.LogFpath)
}

func TestTmuxSessionNaming(t *testing.T) {
	s := NewSession("/tmp/cmdq", "demo-20260101T000000Z-abcdef")
	assert.Equal(t, "cmdq_demo-20260101T000000Z-abcdef_0", s.TmuxSessionName(0))
	assert.Equal(t, "cmdq_demo-20260101T000000Z-abcdef_bookkeeper", s.TmuxBookkeeperSessionName())
}
