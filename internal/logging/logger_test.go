package logging

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, logrus.ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, logrus.InfoLevel, ParseLevel(""))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("verbose"))
}

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel("info")
	defer SetOutput(os.Stdout)

	logger := NewLogger("policy").With("source", "scan.pdf")
	logger.Warn("OCR fallback failed", "error", errors.New("tesseract missing"), 42)
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "OCR fallback failed")
	assert.Contains(t, out, "component=policy")
	assert.Contains(t, out, "source=scan.pdf")
	assert.Contains(t, out, `error="tesseract missing"`)
	assert.NotContains(t, out, "hidden")
}
