package docker

import (
	"archive/tar"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// DockerError Tests
// =============================================================================

func TestDockerError_Format(t *testing.T) {
	err := NewDockerError("BuildImage", "image", "app:1.0", "build failed", ErrImageBuildFailed)
	assert.Equal(t, "BuildImage image app:1.0: build failed", err.Error())
	assert.True(t, errors.Is(err, ErrImageBuildFailed))

	err = NewDockerError("Ping", "", "", "daemon unreachable", ErrConnectionFailed)
	assert.Equal(t, "Ping: daemon unreachable", err.Error())
}

func TestDockerError_EntityWithoutID(t *testing.T) {
	err := NewDockerError("ListContainers", "container", "", "boom", nil)
	assert.Equal(t, "ListContainers container: boom", err.Error())
}

// =============================================================================
// Auth Encoding Tests
// =============================================================================

func TestEncodeAuth_NilProducesValue(t *testing.T) {
	// The daemon requires a non-empty auth header even for anonymous pushes
	encoded, err := encodeAuth(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)
}

func TestEncodeAuth_Credentials(t *testing.T) {
	a, err := encodeAuth(&RegistryAuth{Username: "ci", Password: "secret", ServerAddress: "registry.example.com"})
	require.NoError(t, err)

	b, err := encodeAuth(&RegistryAuth{Username: "other", Password: "secret", ServerAddress: "registry.example.com"})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

// =============================================================================
// Build Context Tests
// =============================================================================

func TestTarDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM alpine\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.go"), []byte("package main\n"), 0644))

	rc, err := tarDirectory(dir)
	require.NoError(t, err)
	defer rc.Close()

	entries := map[string]string{}
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		if hdr.Typeflag == tar.TypeReg {
			content, err := io.ReadAll(tr)
			require.NoError(t, err)
			entries[hdr.Name] = string(content)
		} else {
			entries[hdr.Name] = ""
		}
	}

	assert.Equal(t, "FROM alpine\n", entries["Dockerfile"])
	assert.Equal(t, "package main\n", entries["src/main.go"])
	assert.Contains(t, entries, "src")
}

func TestTarDirectory_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := tarDirectory(file)
	assert.Error(t, err)
}

func TestTarDirectory_Missing(t *testing.T) {
	_, err := tarDirectory(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
