package ledger_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tyemirov/stackup/internal/ledger"
)

const (
	testLedgerPathConstant   = "/project/.stackup/state.ledger"
	testFirstTaskKeyConstant = "00-base.sh"
	testOtherTaskKeyConstant = "10-database.sh"
)

func newStoreFixture(testInstance *testing.T) (*ledger.Store, afero.Fs) {
	fileSystem := afero.NewMemMapFs()
	store, creationError := ledger.NewStore(zap.NewNop(), fileSystem, testLedgerPathConstant)
	require.NoError(testInstance, creationError)
	return store, fileSystem
}

func TestStoreMissingLedgerMeansZeroCompletions(testInstance *testing.T) {
	store, _ := newStoreFixture(testInstance)

	completed, countError := store.CountCompleted()
	require.NoError(testInstance, countError)
	require.Zero(testInstance, completed)

	succeeded, lookupError := store.HasSucceeded(testFirstTaskKeyConstant)
	require.NoError(testInstance, lookupError)
	require.False(testInstance, succeeded)
}

func TestStoreMarkSuccessIsIdempotent(testInstance *testing.T) {
	store, fileSystem := newStoreFixture(testInstance)

	require.NoError(testInstance, store.MarkSuccess(testFirstTaskKeyConstant))
	require.NoError(testInstance, store.MarkSuccess(testFirstTaskKeyConstant))
	require.NoError(testInstance, store.MarkSuccess(testOtherTaskKeyConstant))

	completed, countError := store.CountCompleted()
	require.NoError(testInstance, countError)
	require.Equal(testInstance, 2, completed)

	ledgerContent, readError := afero.ReadFile(fileSystem, testLedgerPathConstant)
	require.NoError(testInstance, readError)
	require.Equal(testInstance, 2, strings.Count(string(ledgerContent), "\n"))
	require.Contains(testInstance, string(ledgerContent), testFirstTaskKeyConstant+"=success:")
}

func TestStoreListCompletedPreservesLedgerOrder(testInstance *testing.T) {
	store, _ := newStoreFixture(testInstance)

	require.NoError(testInstance, store.MarkSuccess(testOtherTaskKeyConstant))
	require.NoError(testInstance, store.MarkSuccess(testFirstTaskKeyConstant))

	records, listError := store.ListCompleted()
	require.NoError(testInstance, listError)
	require.Len(testInstance, records, 2)
	require.Equal(testInstance, testOtherTaskKeyConstant, records[0].TaskKey)
	require.Equal(testInstance, testFirstTaskKeyConstant, records[1].TaskKey)
	require.False(testInstance, records[0].CompletedAt.IsZero())
}

func TestStoreClearRemovesSingleKey(testInstance *testing.T) {
	store, _ := newStoreFixture(testInstance)

	require.NoError(testInstance, store.MarkSuccess(testFirstTaskKeyConstant))
	require.NoError(testInstance, store.MarkSuccess(testOtherTaskKeyConstant))
	require.NoError(testInstance, store.Clear(testFirstTaskKeyConstant))

	firstSucceeded, firstLookupError := store.HasSucceeded(testFirstTaskKeyConstant)
	require.NoError(testInstance, firstLookupError)
	require.False(testInstance, firstSucceeded)

	otherSucceeded, otherLookupError := store.HasSucceeded(testOtherTaskKeyConstant)
	require.NoError(testInstance, otherLookupError)
	require.True(testInstance, otherSucceeded)
}

func TestStoreClearBeforeFirstMarkIsNoOp(testInstance *testing.T) {
	// A real filesystem: the .stackup directory must not be created as a
	// side effect of clearing a record that was never written.
	ledgerPath := filepath.Join(testInstance.TempDir(), ".stackup", "state.ledger")
	fileSystem := afero.NewOsFs()
	store, creationError := ledger.NewStore(zap.NewNop(), fileSystem, ledgerPath)
	require.NoError(testInstance, creationError)

	require.NoError(testInstance, store.Clear(testFirstTaskKeyConstant))

	ledgerExists, statError := afero.Exists(fileSystem, ledgerPath)
	require.NoError(testInstance, statError)
	require.False(testInstance, ledgerExists)
}

func TestStoreClearAllDeletesLedger(testInstance *testing.T) {
	store, fileSystem := newStoreFixture(testInstance)

	require.NoError(testInstance, store.MarkSuccess(testFirstTaskKeyConstant))
	require.NoError(testInstance, store.ClearAll())
	// Clearing an already-missing ledger stays silent.
	require.NoError(testInstance, store.ClearAll())

	ledgerExists, statError := afero.Exists(fileSystem, testLedgerPathConstant)
	require.NoError(testInstance, statError)
	require.False(testInstance, ledgerExists)

	completed, countError := store.CountCompleted()
	require.NoError(testInstance, countError)
	require.Zero(testInstance, completed)
}

func TestStoreRejectsBlankTaskKey(testInstance *testing.T) {
	store, _ := newStoreFixture(testInstance)

	require.ErrorIs(testInstance, store.MarkSuccess("   "), ledger.ErrTaskKeyMissing)
	require.ErrorIs(testInstance, store.Clear(""), ledger.ErrTaskKeyMissing)
}
