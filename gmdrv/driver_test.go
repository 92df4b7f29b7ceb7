package gmdrv

import (
	"context"
	"testing"
	"time"

	"github.com/USCRPL/GeckoMoped/gmasm"
	"github.com/USCRPL/GeckoMoped/gmconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memOpener serves source text straight out of a map, standing in for the
// GUI shell's source-tab lookup collaborator.
type memOpener struct {
	files map[string]string
}

func (m memOpener) Exists(path string) bool {
	_, ok := m.files[path]
	return ok
}

func (m memOpener) Open(path string) (*gmasm.SourceFile, error) {
	text, ok := m.files[path]
	if !ok {
		return nil, assert.AnError
	}
	lines := []string{}
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, text[start:i])
			start = i + 1
		}
	}
	lines = append(lines, text[start:])
	return gmasm.NewSourceFile(path, lines), nil
}

func TestDriverLoadRunWaitCompletesOnDummyTransport(t *testing.T) {
	// Both instructions below are "instant" (statically known next PC),
	// so the controller never needs a wire response to finish the
	// program -- a plain DummyTransport with no responder suffices.
	opener := memOpener{files: map[string]string{
		"prog.gm": "x configure: 4 amps, idle at 50% after 1 seconds\nx velocity 300\n",
	}}
	d := New(opener, gmconfig.Default())
	require.NoError(t, d.Connect(""))
	defer d.Shutdown()

	require.NoError(t, d.LoadProgram("prog.gm"))
	require.NoError(t, d.Run())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, d.WaitForProgram(ctx))
	assert.False(t, d.IsRunning())
}

func TestDriverLoadProgramReportsAssembleErrors(t *testing.T) {
	opener := memOpener{files: map[string]string{
		"bad.gm": "wait 70 seconds\n",
	}}
	d := New(opener, gmconfig.Default())
	require.NoError(t, d.Connect(""))
	defer d.Shutdown()

	err := d.LoadProgram("bad.gm")
	assert.Error(t, err)
}

func TestDriverConnectedStateTracksLifecycle(t *testing.T) {
	opener := memOpener{files: map[string]string{}}
	d := New(opener, gmconfig.Default())
	assert.False(t, d.IsConnected())
	require.NoError(t, d.Connect(""))
	assert.True(t, d.IsConnected())
	d.Shutdown()
}
