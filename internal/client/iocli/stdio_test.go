package iocli

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Проверяем что NewStdio возвращает валидный объект
func TestNewStdio(t *testing.T) {
	stdio := NewStdio()
	assert.NotNil(t, stdio)
}

func TestPrintlnAndPrintf(t *testing.T) {
	var out bytes.Buffer
	s := NewStream(strings.NewReader(""), &out)

	s.Println("hello", "world")
	s.Printf("test %d %s\n", 1, "abc")
	_, err := s.Write([]byte("raw"))
	require.NoError(t, err)

	assert.Equal(t, "hello world\ntest 1 abc\nraw", out.String())
}

func TestReadInput(t *testing.T) {
	var out bytes.Buffer
	s := NewStream(strings.NewReader("  user input \nsecond\nlast"), &out)

	first, err := s.ReadInput("Prompt: ")
	require.NoError(t, err)
	assert.Equal(t, "user input", first)
	assert.Equal(t, "Prompt: ", out.String())

	second, err := s.ReadInput("")
	require.NoError(t, err)
	assert.Equal(t, "second", second)

	// Последняя строка без перевода строки все равно читается
	last, err := s.ReadInput("")
	require.NoError(t, err)
	assert.Equal(t, "last", last)

	_, err = s.ReadInput("")
	assert.ErrorIs(t, err, io.EOF)
}

// Stdin из pipe не терминал: пароль читается как обычная строка
func TestReadPassword_NotTerminal(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)

	go func() {
		_, _ = w.Write([]byte("secret-token\n"))
		_ = w.Close()
	}()

	oldStdin := os.Stdin
	defer func() { os.Stdin = oldStdin }()
	os.Stdin = r

	stdio := NewStdio()
	result, err := stdio.ReadPassword("Token: ")
	require.NoError(t, err)
	assert.Equal(t, "secret-token", result)
}
