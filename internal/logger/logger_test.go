package logger

import (
	"bytes"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelDebug, ParseLevel("trace"))
	assert.Equal(t, LevelError, ParseLevel(" warn "))
	assert.Equal(t, LevelInfo, ParseLevel(""))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestLevelsAndPrefix(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		Flush(time.Second)
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags)
		SetPrefix("")
		SetLevel("info")
	})

	SetPrefix("chat")
	SetLevel("error")
	Infof("hidden %d", 1)
	Debugf("hidden %d", 2)
	Errorf("shown %d", 3)
	Flush(time.Second)
	assert.Equal(t, "[chat] ERROR: shown 3\n", buf.String())

	buf.Reset()
	SetLevel("debug")
	Debugf("now %s", "visible")
	DeferLogDuration("op", time.Now())()
	Flush(time.Second)
	assert.Contains(t, buf.String(), "[chat] DEBUG: now visible")
	assert.Contains(t, buf.String(), "[chat] fn=op duration_ms=")
}
