package logger_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chiro2001/ext2fuse/internal/logger"
	"github.com/stretchr/testify/require"
)

func TestSetLoggingLevelDoesNotPanic(t *testing.T) {
	for _, sev := range []string{
		logger.SeverityTrace, logger.SeverityDebug, logger.SeverityInfo,
		logger.SeverityWarning, logger.SeverityError, logger.SeverityOff, "bogus",
	} {
		logger.SetLoggingLevel(sev)
	}
}

func TestSetLogFormatNormalizesUnknown(t *testing.T) {
	logger.SetLogFormat("yaml")
	logger.SetLogFormat("json")
	logger.SetLogFormat("text")
}

func TestInitLogFileWritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ext2fuse.log")
	err := logger.InitLogFile(path, logger.SeverityDebug, "text", logger.DefaultRotateConfig())
	require.NoError(t, err)

	logger.Infof("hello %s", "world")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello world")
}
