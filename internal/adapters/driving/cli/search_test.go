package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

func TestSearchCmd_Use(t *testing.T) {
	assert.Equal(t, "search [query]", searchCmd.Use)
}

func TestSearchCmd_RequiresExactlyOneArg(t *testing.T) {
	_, _, cleanup := setupTestServices()
	defer cleanup()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"search"})

	err := rootCmd.Execute()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestSearchCmd_HasLimitFlag(t *testing.T) {
	flag := searchCmd.Flags().Lookup("limit")
	require.NotNil(t, flag, "limit flag should exist")
	assert.Equal(t, "n", flag.Shorthand)
	assert.Equal(t, "10", flag.DefValue)
}

func TestSearchCmd_ExecutesWithQuery(t *testing.T) {
	mem, _, cleanup := setupTestServices()
	defer cleanup()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"search", "vehicle"})

	err := rootCmd.Execute()

	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Results:")
	assert.Contains(t, out, "[1] MEM_0123456789ABCDEF (0.92)")
	assert.Contains(t, out, "Backends: primary, semantic")
	assert.Contains(t, out, "Namespace: case-7")
	assert.Contains(t, out, "the vehicle was red")
	assert.Equal(t, 10, mem.lastOpts.Limit)
}

func TestSearchCmd_PassesFilters(t *testing.T) {
	mem, _, cleanup := setupTestServices()
	defer cleanup()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"search", "-n", "5", "--namespace", "case-7", "--meta", "source=interview", "vehicle"})

	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, 5, mem.lastOpts.Limit)
	assert.Equal(t, "case-7", mem.lastOpts.Namespace)
	assert.Equal(t, domain.Metadata{"source": "interview"}, mem.lastOpts.RequiredMetadata)
}

func TestSearchCmd_ListsUnavailableBackends(t *testing.T) {
	mem, _, cleanup := setupTestServices()
	defer cleanup()
	mem.searchResp.Failed = []domain.BackendOutcome{
		{Backend: "backup", Status: domain.OutcomeFailure, Error: "deadline exceeded"},
	}

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"search", "vehicle"})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "Unavailable: backup (deadline exceeded)")
}

func TestSearchCmd_JSONOutput(t *testing.T) {
	_, _, cleanup := setupTestServices()
	defer cleanup()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"search", "--json", "vehicle"})

	require.NoError(t, rootCmd.Execute())

	var resp domain.SearchResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "MEM_0123456789ABCDEF", resp.Results[0].Record.ID)
	assert.Equal(t, []string{"primary", "semantic"}, resp.Contributing)
}

func TestSearchCmd_JSONEmptyResults(t *testing.T) {
	mem, _, cleanup := setupTestServices()
	defer cleanup()
	mem.searchResp = domain.SearchResponse{}

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"search", "--json", "nothing"})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), `"results": []`)
}

func TestOutputSearchTable_EmptyResults(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)

	outputSearchTable(rootCmd, domain.SearchResponse{})

	assert.Contains(t, buf.String(), "No results found")
}

func TestSearchCmd_ServiceNotConfigured(t *testing.T) {
	_, _, cleanup := setupTestServices()
	defer cleanup()
	memoryService = nil

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"search", "test"})

	err := rootCmd.Execute()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "memory service not configured")
}

func TestSearchCmd_ServiceError(t *testing.T) {
	mem, _, cleanup := setupTestServices()
	defer cleanup()
	mem.err = errors.New("index closed")

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"search", "test"})

	err := rootCmd.Execute()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "search failed")
}
