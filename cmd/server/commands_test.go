package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lease-billing/billing"
	"github.com/warp/lease-billing/config"
)

func TestWriteSchedule(t *testing.T) {
	// GIVEN a two-week contract with an admin fee, one day past the first due date
	contract, err := billing.NewContract(billing.ContractTerms{
		ID:         "C1",
		ClientID:   "CL1",
		SignedOn:   billing.MustParseDate("2024-03-01"),
		WeeklyRent: billing.MustMoney("100"),
		AdminFee:   billing.MustMoney("50"),
		TermWeeks:  2,
	}, billing.MustMoney("5"), time.Now())
	require.NoError(t, err)
	today := billing.MustParseDate("2024-03-10")

	// WHEN the preview table is written
	var out bytes.Buffer
	require.NoError(t, writeSchedule(&out, billing.GenerateSchedule(contract, today), today))

	// THEN there is a header and one row per invoice
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"INVOICE", "KIND", "PERIOD", "DUE", "PRINCIPAL", "STATE", "PENALTY"}, strings.Fields(lines[0]))

	assert.Equal(t, []string{"C1-000", "admin-fee", "[2024-03-02,", "2024-03-02]", "2024-03-09", "50.00", "overdue", "0.00"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"C1-001", "weekly", "[2024-03-02,", "2024-03-08]", "2024-03-09", "100.00", "overdue", "5.00"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"C1-002", "weekly", "[2024-03-09,", "2024-03-15]", "2024-03-16", "100.00", "future", "0.00"}, strings.Fields(lines[3]))
}

func TestPreviewDate(t *testing.T) {
	d, err := previewDate("2024-06-03")
	require.NoError(t, err)
	assert.Equal(t, billing.MustParseDate("2024-06-03"), d)

	_, err = previewDate("03/06/2024")
	assert.Error(t, err)
}

func TestReadInput(t *testing.T) {
	raw, err := readInput("-", strings.NewReader(`{"id":"C1"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"id":"C1"}`, string(raw))

	path := filepath.Join(t.TempDir(), "contract.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"C2"}`), 0o600))
	raw, err = readInput(path, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"C2"}`, string(raw))

	_, err = readInput(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.ErrorContains(t, err, "read contract")
}

func TestMigrateCommand_SQLite(t *testing.T) {
	// GIVEN a sqlite configuration pointing at a fresh file
	path := filepath.Join(t.TempDir(), "billing.db")
	prev := cfg
	cfg = &config.Config{StoreDriver: config.DriverSQLite, SQLitePath: path}
	t.Cleanup(func() { cfg = prev })

	// WHEN the migrate command runs
	migrateCmd.SetContext(context.Background())
	err := migrateCmd.RunE(migrateCmd, nil)

	// THEN the schema file exists
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
