package draft

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fuzzysecurity/kahlo-host/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGetList(t *testing.T) {
	s := New(t.TempDir())

	d, err := s.Create("my-draft", "console.log('hi')", nil, "")
	require.NoError(t, err)
	assert.NotEmpty(t, d.DraftID)

	got, err := s.Get(d.DraftID)
	require.NoError(t, err)
	assert.Equal(t, d.Source, got.Source)

	list, err := s.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateRejectsEmptySource(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Create("x", "", nil, "")
	require.Error(t, err)
	e, _ := errs.As(err)
	assert.Equal(t, errs.CodeInvalidArgument, e.Code)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Get("nope")
	require.Error(t, err)
	e, _ := errs.As(err)
	assert.Equal(t, errs.CodeNotFound, e.Code)
}

func TestUpdatePersistsChanges(t *testing.T) {
	s := New(t.TempDir())
	d, err := s.Create("a", "src-v1", nil, "")
	require.NoError(t, err)

	newSource := "src-v2"
	updated, err := s.Update(d.DraftID, nil, &newSource, nil)
	require.NoError(t, err)
	assert.Equal(t, "src-v2", updated.Source)
	assert.True(t, updated.UpdatedAt.After(d.CreatedAt) || updated.UpdatedAt.Equal(d.CreatedAt))

	got, err := s.Get(d.DraftID)
	require.NoError(t, err)
	assert.Equal(t, "src-v2", got.Source)
}

func TestUpdateRejectsEmptySource(t *testing.T) {
	s := New(t.TempDir())
	d, err := s.Create("a", "src", nil, "")
	require.NoError(t, err)

	empty := ""
	_, err = s.Update(d.DraftID, nil, &empty, nil)
	require.Error(t, err)
}

func TestDeleteRemovesDraft(t *testing.T) {
	s := New(t.TempDir())
	d, err := s.Create("a", "src", nil, "")
	require.NoError(t, err)

	require.NoError(t, s.Delete(d.DraftID))
	_, err = s.Get(d.DraftID)
	require.Error(t, err)
}

func TestLoadOnFirstUseSkipsOrphanTmpFiles(t *testing.T) {
	dir := t.TempDir()
	draftsDir := filepath.Join(dir, "drafts")
	require.NoError(t, os.MkdirAll(draftsDir, 0o755))
	orphan := filepath.Join(draftsDir, "orphan.json.tmp")
	require.NoError(t, os.WriteFile(orphan, []byte("{}"), 0o644))

	s := New(dir)
	_, err := s.List()
	require.NoError(t, err)

	_, statErr := os.Stat(orphan)
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoadOnFirstUseReadsExistingDrafts(t *testing.T) {
	dir := t.TempDir()
	draftsDir := filepath.Join(dir, "drafts")
	require.NoError(t, os.MkdirAll(draftsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(draftsDir, "existing.json"),
		[]byte(`{"draft_id":"existing","source":"old"}`), 0o644))

	s := New(dir)
	got, err := s.Get("existing")
	require.NoError(t, err)
	assert.Equal(t, "old", got.Source)
}
