package ktl_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keckobservatory/instruments/ktl"
)

func newClient() (*ktl.Client, *ktl.Mock, *test.Hook) {
	m := ktl.NewMock()
	c := ktl.NewClient("mosfire", map[string]ktl.Service{"mosfire": m})
	log, hook := test.NewNullLogger()
	c.Log = log
	return c, m, hook
}

func ExampleFormat() {
	fmt.Println(ktl.Format(137.25))
	fmt.Println(ktl.Format(true))
	fmt.Println(ktl.Format(12))
	// Output:
	// 137.25
	// 1
	// 12
}

func TestGetFloat(t *testing.T) {
	c, m, _ := newClient()
	m.Seed("B01POS", " 137.500 ")
	f, err := c.GetFloat("", "B01POS")
	require.NoError(t, err)
	assert.Equal(t, 137.5, f)
}

func TestGetFloatDegradesToString(t *testing.T) {
	c, m, hook := newClient()
	m.Seed("OBSMODE", "K-spectroscopy")
	v, err := c.Get("mosfire", "OBSMODE", ktl.Float)
	require.NoError(t, err)
	assert.Equal(t, "K-spectroscopy", v)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	_, err = c.GetFloat("mosfire", "OBSMODE")
	var pe *ktl.ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestGetIntDegradesToString(t *testing.T) {
	c, m, _ := newClient()
	m.Seed("CSUREADY", "two")
	v, err := c.Get("", "CSUREADY", ktl.Int)
	require.NoError(t, err)
	assert.Equal(t, "two", v)
}

func TestGetBool(t *testing.T) {
	c, m, _ := newClient()
	cases := map[string]ktl.Tristate{
		"true":   ktl.True,
		" TRUE ": ktl.True,
		"False":  ktl.False,
		"1":      ktl.True,
		"0":      ktl.False,
		"-3":     ktl.True,
		"maybe":  ktl.Unknown,
		"":       ktl.Unknown,
	}
	for raw, expected := range cases {
		m.Seed("IMAGEDONE", raw)
		got, err := c.GetBool("", "IMAGEDONE")
		require.NoError(t, err)
		if got != expected {
			t.Errorf("expected %q to parse as %v, got %v", raw, expected, got)
		}
	}
}

func TestUnknownService(t *testing.T) {
	c, _, _ := newClient()
	_, err := c.Read("mcsus", "CSUSTAT")
	assert.True(t, errors.Is(err, ktl.ErrNoService))
	err = c.Set("mcsus", "SETUPNAME", "x", true)
	assert.True(t, errors.Is(err, ktl.ErrNoService))
}

func TestSetJournal(t *testing.T) {
	c, m, _ := newClient()
	require.NoError(t, c.Set("", "B01TARG", 4.0, true))
	require.NoError(t, c.Set("mosfire", "csugo", 1, false))
	w := m.Writes()
	require.Len(t, w, 2)
	assert.Equal(t, ktl.Write{Keyword: "B01TARG", Value: "4", Wait: true}, w[0])
	assert.Equal(t, ktl.Write{Keyword: "CSUGO", Value: "1", Wait: false}, w[1])
	v, ok := m.Value("b01targ")
	assert.True(t, ok)
	assert.Equal(t, "4", v)
}

func TestLimitedWritesStillLand(t *testing.T) {
	c, m, _ := newClient()
	c.LimitWrites(1000, 5)
	for i := 0; i < 10; i++ {
		require.NoError(t, c.Set("", "ITIME", i, true))
	}
	assert.Len(t, m.Writes(), 10)
}

func TestMockScript(t *testing.T) {
	m := ktl.NewMock()
	m.Script("CSUSTAT", "Creating Group.", "Creating Group.", "Setup complete.")
	for _, expected := range []string{"Creating Group.", "Creating Group.", "Setup complete.", "Setup complete."} {
		v, err := m.Read("csustat")
		require.NoError(t, err)
		assert.Equal(t, expected, v)
	}
	assert.Equal(t, 4, m.Reads("CSUSTAT"))
}

func TestMockFail(t *testing.T) {
	m := ktl.NewMock()
	m.Seed("X", "1")
	boom := errors.New("rpc timeout")
	m.Fail("X", boom)
	_, err := m.Read("X")
	assert.Equal(t, boom, err)
	m.Fail("X", nil)
	v, err := m.Read("X")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
}

func TestMockMissingKeyword(t *testing.T) {
	m := ktl.NewMock()
	_, err := m.Read("NOPE")
	assert.Error(t, err)
}

func TestMockOnWrite(t *testing.T) {
	m := ktl.NewMock()
	m.OnWrite = func(m *ktl.Mock, kw, value string) {
		if kw == "CSUGO" {
			m.Seed("CSUREADY", "3")
		}
	}
	require.NoError(t, m.Write("csugo", "1", false))
	v, _ := m.Value("CSUREADY")
	assert.Equal(t, "3", v)
}
