package notify

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestWriterNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewWriterNotifier(&buf)

	Send(n, LevelSuccess, "Payment received", "Order HG-1234ABCD is paid")
	Send(n, LevelWarning, "Signed out", "")

	assert.Equal(t, "[✓] Payment received: Order HG-1234ABCD is paid\n[!] Signed out\n", buf.String())
}

func TestMultiAndRecorder(t *testing.T) {
	var buf bytes.Buffer
	rec := &Recorder{}
	m := Multi{rec, nil, NewLogNotifier(zerolog.New(&buf))}

	Send(m, LevelError, "Payment failed", "cancelled")
	Send(m, LevelInfo, "Check your phone", "")
	Send(nil, LevelInfo, "dropped", "")

	assert.Equal(t, []Level{LevelError, LevelInfo}, rec.Levels())
	all := rec.All()
	assert.Equal(t, "Payment failed", all[0].Title)
	assert.False(t, all[0].At.IsZero())
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), `"title":"Payment failed"`)
}
