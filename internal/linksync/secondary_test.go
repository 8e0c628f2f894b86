package linksync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/devlink/internal/device/account"
	"github.com/dmitrijs2005/devlink/internal/device/backup"
	"github.com/dmitrijs2005/devlink/internal/device/guard"
	"github.com/dmitrijs2005/devlink/internal/device/relayclient"
	"github.com/dmitrijs2005/devlink/internal/linksync/progress"
	"github.com/dmitrijs2005/devlink/internal/relayapi"
)

func archiveLocator(cdn int32, key string) *relayapi.TransferArchive {
	return &relayapi.TransferArchive{CDN: &cdn, Key: &key}
}

func archiveError(code string) *relayapi.TransferArchive {
	return &relayapi.TransferArchive{Error: &code}
}

type fakeImporter struct {
	err      error
	imported [][]byte
}

func (f *fakeImporter) Import(ctx context.Context, key []byte, artifact []byte) error {
	if f.err != nil {
		return f.err
	}
	f.imported = append(f.imported, artifact)
	return nil
}

type fakeStore struct {
	reg     account.Registration
	loadErr error
	marked  bool
	commits int
}

func (f *fakeStore) Load(ctx context.Context) (*account.Registration, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	reg := f.reg
	return &reg, nil
}

func (f *fakeStore) Commit(ctx context.Context, reg *account.Registration) error {
	f.reg = *reg
	f.commits++
	return nil
}

func (f *fakeStore) MarkBackupRestored(ctx context.Context) error {
	f.reg.BackupRestored = true
	f.marked = true
	return nil
}

func newTestSecondary(relay RelayClient, importer backup.Importer, store account.Store) *Secondary {
	log := testLogger()
	s := NewSecondary(relay, importer, store, guard.NewSleepBlocker(log), log)
	s.pollTimeout = 50 * time.Millisecond
	s.maxPolls = 5
	return s
}

func TestSecondary_HappyPath_DownloadsAndImports(t *testing.T) {
	relay := &fakeRelay{
		waitArchiveResults: []waitArchiveResult{
			{err: relayclient.ErrWaitTimeout},
			{archive: archiveLocator(3, "archives/abc")},
		},
		readURL:  "https://cdn.example/get",
		artifact: []byte("sealed backup"),
	}
	importer := &fakeImporter{}
	store := &fakeStore{}
	s := newTestSecondary(relay, importer, store)

	var last float64
	err := s.WaitForBackupAndRestore(context.Background(), make([]byte, 32), progress.SinkFunc(func(v float64) {
		last = v
	}))
	require.NoError(t, err)

	assert.InDelta(t, 100, last, 0.01)
	assert.Equal(t, []string{"https://cdn.example/get"}, relay.downloads)
	require.Len(t, importer.imported, 1)
	assert.Equal(t, []byte("sealed backup"), importer.imported[0])
	assert.True(t, store.marked)
}

func TestSecondary_AlreadyRestored_IsNoOp(t *testing.T) {
	relay := &fakeRelay{}
	importer := &fakeImporter{}
	store := &fakeStore{reg: account.Registration{BackupRestored: true}}
	s := newTestSecondary(relay, importer, store)

	err := s.WaitForBackupAndRestore(context.Background(), make([]byte, 32), progress.SinkFunc(func(float64) {}))
	require.NoError(t, err)
	assert.Empty(t, relay.downloads)
	assert.Empty(t, importer.imported)
}

func TestSecondary_AllPollsTimeOut(t *testing.T) {
	relay := &fakeRelay{}
	s := newTestSecondary(relay, &fakeImporter{}, &fakeStore{})

	err := s.WaitForBackupAndRestore(context.Background(), make([]byte, 32), progress.SinkFunc(func(float64) {}))
	require.ErrorIs(t, err, ErrTimedOutWaitingForBackup)
	assert.Equal(t, RecoveryRetryStep, Classify(err))
}

func TestSecondary_ContinueWithoutUpload_SkipsDownload(t *testing.T) {
	relay := &fakeRelay{
		waitArchiveResults: []waitArchiveResult{
			{archive: archiveError(relayapi.TransferArchiveErrorContinueWithoutUpload)},
		},
	}
	importer := &fakeImporter{}
	store := &fakeStore{}
	s := newTestSecondary(relay, importer, store)

	err := s.WaitForBackupAndRestore(context.Background(), make([]byte, 32), progress.SinkFunc(func(float64) {}))
	require.ErrorIs(t, err, ErrPrimaryFailedExport)
	assert.Equal(t, RecoveryContinueWithoutSync, Classify(err))
	assert.Empty(t, relay.downloads)
	assert.Empty(t, importer.imported)
	assert.False(t, store.marked)
}

func TestSecondary_RelinkRequested(t *testing.T) {
	relay := &fakeRelay{
		waitArchiveResults: []waitArchiveResult{
			{archive: archiveError(relayapi.TransferArchiveErrorRelinkRequested)},
		},
	}
	s := newTestSecondary(relay, &fakeImporter{}, &fakeStore{})

	err := s.WaitForBackupAndRestore(context.Background(), make([]byte, 32), progress.SinkFunc(func(float64) {}))
	require.ErrorIs(t, err, ErrRelinkRequested)
	assert.Equal(t, RecoveryRestartProvisioning, Classify(err))
}

func TestSecondary_DownloadNetworkFailure_IsRetriable(t *testing.T) {
	relay := &fakeRelay{
		waitArchiveResults: []waitArchiveResult{
			{archive: archiveLocator(3, "k")},
		},
		readURL:     "https://cdn.example/get",
		downloadErr: errors.New("connection reset"),
	}
	store := &fakeStore{}
	s := newTestSecondary(relay, &fakeImporter{}, store)

	err := s.WaitForBackupAndRestore(context.Background(), make([]byte, 32), progress.SinkFunc(func(float64) {}))
	var downloadErr *DownloadError
	require.ErrorAs(t, err, &downloadErr)
	assert.Equal(t, RecoveryRetryStep, Classify(err))
	assert.False(t, store.marked)
}

func TestSecondary_ImportFailures_KeepIdentity(t *testing.T) {
	cases := []struct {
		name      string
		importErr error
		wantErr   error
		action    RecoveryAction
	}{
		{"unsupported version", backup.ErrUnsupportedVersion, backup.ErrUnsupportedVersion, RecoveryUpdateApp},
		{"corrupt artifact", backup.ErrCorrupt, backup.ErrCorrupt, RecoveryRestartProvisioning},
		{"generic failure", errors.New("db busy"), ErrRestoreFailed, RecoveryRestartProvisioning},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			relay := &fakeRelay{
				waitArchiveResults: []waitArchiveResult{
					{archive: archiveLocator(3, "k")},
				},
				readURL:  "https://cdn.example/get",
				artifact: []byte("sealed"),
			}
			store := &fakeStore{}
			s := newTestSecondary(relay, &fakeImporter{err: tc.importErr}, store)

			err := s.WaitForBackupAndRestore(context.Background(), make([]byte, 32), progress.SinkFunc(func(float64) {}))
			require.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, tc.action, Classify(err))
			assert.False(t, store.marked, "a failed restore must not be recorded")
		})
	}
}

func TestSecondary_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newTestSecondary(&fakeRelay{}, &fakeImporter{}, &fakeStore{})

	err := s.WaitForBackupAndRestore(ctx, make([]byte, 32), progress.SinkFunc(func(float64) {}))
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, RecoveryNone, Classify(err))
}
