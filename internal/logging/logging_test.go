package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingSink struct {
	calls []string
}

func (s *recordingSink) ShouldLog(topic string, level Level) bool { return true }

func (s *recordingSink) Log(level Level, topic string, message string) {
	s.calls = append(s.calls, level.String()+" "+topic+" "+message)
}

func TestSetSinkRedirectsOutput(t *testing.T) {
	sink := &recordingSink{}
	orig := CurrentSink()
	SetSink(sink)
	defer SetSink(orig)

	New("widgets").Warningf("value %d exceeded", 5)

	require := assert.New(t)
	require.Len(sink.calls, 1)
	require.Equal("WARNING throng.widgets value 5 exceeded", sink.calls[0])
}

type silentSink struct{}

func (silentSink) ShouldLog(topic string, level Level) bool { return false }
func (silentSink) Log(level Level, topic string, message string) {
	panic("should not be called when ShouldLog returns false")
}

func TestShouldLogFalseSkipsFormatting(t *testing.T) {
	orig := CurrentSink()
	SetSink(silentSink{})
	defer SetSink(orig)

	assert.NotPanics(t, func() {
		New("widgets").Errorf("boom")
	})
}
