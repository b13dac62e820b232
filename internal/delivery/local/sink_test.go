package local_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapterbox/internal/delivery/local"
	"github.com/JakeFAU/chapterbox/internal/manga"
)

type artifact struct {
	name string
	data []byte
}

func (a artifact) Filename() string { return a.name }
func (a artifact) Size() int64      { return int64(len(a.data)) }
func (a artifact) Open() io.Reader  { return bytes.NewReader(a.data) }

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "out", "nested")
		sink, err := local.New(local.Config{Dir: dir})
		require.NoError(t, err)
		assert.NotNil(t, sink)
		assert.DirExists(t, dir)
	})

	t.Run("MissingDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("DirIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{Dir: file})
		assert.Error(t, err)
	})
}

func TestSend(t *testing.T) {
	dir := t.TempDir()
	sink, err := local.New(local.Config{Dir: dir})
	require.NoError(t, err)

	t.Run("WritesUnderRecipient", func(t *testing.T) {
		err := sink.Send(context.Background(), "42", artifact{name: "Solo - Chapter 1.cbz", data: []byte("zip")})
		require.NoError(t, err)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(dir, "42", "Solo - Chapter 1.cbz"))
		require.NoError(t, err)
		assert.Equal(t, []byte("zip"), got)

		leftovers, err := filepath.Glob(filepath.Join(dir, "42", ".partial_*"))
		require.NoError(t, err)
		assert.Empty(t, leftovers)
	})

	t.Run("NoRecipient", func(t *testing.T) {
		require.NoError(t, sink.Send(context.Background(), "", artifact{name: "a.cbz", data: []byte("a")}))
		assert.FileExists(t, filepath.Join(dir, "a.cbz"))
	})

	t.Run("TraversalIsPermanent", func(t *testing.T) {
		err := sink.Send(context.Background(), "../..", artifact{name: "evil.cbz"})
		require.ErrorIs(t, err, manga.ErrPermanent)
	})

	t.Run("EmptyFilename", func(t *testing.T) {
		err := sink.Send(context.Background(), "42", artifact{})
		require.ErrorIs(t, err, manga.ErrPermanent)
	})
}
