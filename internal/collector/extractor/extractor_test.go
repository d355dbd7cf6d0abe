package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPythonTraceback(t *testing.T) {
	chunk := `2026-07-31 10:00:00 INFO starting job
2026-07-31 10:00:01 ERROR job failed
Traceback (most recent call last):
  File "/app/worker.py", line 42, in process
    int(raw)
ValueError: invalid literal for int() with base 10: 'abc'`

	res := Extract(chunk, DefaultOptions())
	require.True(t, res.Emit)
	assert.Equal(t, LangPython, res.Language)
	assert.Equal(t, "ValueError", res.ExceptionType)
	require.Len(t, res.Frames, 1)
	assert.Equal(t, "worker.py", res.Frames[0].File)
	assert.Equal(t, "process", res.Frames[0].Function)

	body := BuildErrorBody(res)
	assert.Contains(t, body.MessageKey, "<num>")
	assert.Contains(t, body.MessageKey, "<str>")
	assert.NotEmpty(t, body.Fingerprint)
}

func TestExtractJavaCausedBy(t *testing.T) {
	chunk := `Exception in thread "main" java.lang.RuntimeException: top level failure
	at App.main(App.java:10)
Caused by: java.lang.IllegalArgumentException: bad config value
	at Config.load(Config.java:55)
	at App.main(App.java:8)`

	res := Extract(chunk, DefaultOptions())
	require.True(t, res.Emit)
	assert.Equal(t, LangJava, res.Language)
	assert.Equal(t, "IllegalArgumentException", res.ExceptionType)
	require.NotEmpty(t, res.Frames)
	assert.Equal(t, "App.java", res.Frames[0].File)
	assert.Equal(t, "App.main", res.Frames[0].Function)
}

func TestFilterGateStrictRejectsBareMessage(t *testing.T) {
	opts := DefaultOptions()
	opts.Filter = FilterStrict
	res := Extract("just a plain error line with no marker", opts)
	assert.False(t, res.Emit)
}

func TestFilterGateBalancedAcceptsExceptionType(t *testing.T) {
	opts := DefaultOptions()
	opts.Filter = FilterBalanced
	res := Extract("NameError: name 'x' is not defined", opts)
	assert.True(t, res.Emit)
}

func TestFilterGateLenientAlwaysEmits(t *testing.T) {
	opts := DefaultOptions()
	opts.Filter = FilterLenient
	res := Extract("nothing special here", opts)
	assert.True(t, res.Emit)
}

func TestExtractEmptyChunk(t *testing.T) {
	res := Extract("   \n  ", DefaultOptions())
	assert.False(t, res.Emit)
}

func TestExcerptTruncatesToTail(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxRawExcerpt = 20
	chunk := "Traceback (most recent call last):\n  File \"a.py\", line 1, in f\nValueError: x"
	res := Extract(chunk, opts)
	assert.LessOrEqual(t, len(res.Excerpt), 20)
	assert.Contains(t, res.Excerpt, "ValueError")
}
