package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

func TestStoreCmd_StoresArgument(t *testing.T) {
	mem, _, cleanup := setupTestServices()
	defer cleanup()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"store", "--namespace", "case-7", "-m", "source=interview", "the vehicle was red"})

	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "the vehicle was red", mem.lastContent)
	assert.Equal(t, "case-7", mem.lastMetadata[domain.MetaNamespace])
	assert.Equal(t, "interview", mem.lastMetadata["source"])
	assert.Empty(t, mem.lastReplace)

	out := buf.String()
	assert.Contains(t, out, "Stored MEM_0123456789ABCDEF (1/2 backends)")
	assert.Contains(t, out, "primary")
	assert.Contains(t, out, "failed: deadline exceeded")
	assert.Contains(t, out, "Integrity: abc123")
}

func TestStoreCmd_ReadsStdin(t *testing.T) {
	mem, _, cleanup := setupTestServices()
	defer cleanup()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetIn(strings.NewReader("piped memory\n"))
	rootCmd.SetArgs([]string{"store"})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "piped memory", mem.lastContent)
}

func TestStoreCmd_EmptyContent(t *testing.T) {
	_, _, cleanup := setupTestServices()
	defer cleanup()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader("  \n"))
	rootCmd.SetArgs([]string{"store"})

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content is required")
}

func TestStoreCmd_Replace(t *testing.T) {
	mem, _, cleanup := setupTestServices()
	defer cleanup()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"store", "--replace", "MEM_0123456789ABCDEF", "corrected statement"})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "MEM_0123456789ABCDEF", mem.lastReplace)
	assert.Equal(t, "corrected statement", mem.lastContent)
}

func TestStoreCmd_JSONOutput(t *testing.T) {
	_, _, cleanup := setupTestServices()
	defer cleanup()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"store", "--json", "x"})

	require.NoError(t, rootCmd.Execute())

	var res domain.StoreResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
	assert.Equal(t, 1, res.BackendsAccepted)
	assert.Len(t, res.Outcomes, 2)
}

func TestStoreCmd_AllBackendsFailed(t *testing.T) {
	mem, _, cleanup := setupTestServices()
	defer cleanup()
	mem.err = domain.ErrAllBackendsFailed

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"store", "x"})

	err := rootCmd.Execute()
	assert.ErrorIs(t, err, domain.ErrAllBackendsFailed)
}

func TestStoreCmd_InvalidMeta(t *testing.T) {
	_, _, cleanup := setupTestServices()
	defer cleanup()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"store", "-m", "broken", "x"})

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected key=value")
}
