package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ObiAU/commentcurator/internal/models"
	"github.com/ObiAU/commentcurator/internal/storage"
)

func openDB(t *testing.T, path string) *storage.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewSettingsPersistsDefaults(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, filepath.Join(t.TempDir(), "settings.db"))

	s, err := NewSettings(ctx, db, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 10, s.Int(KeyBatchSize))
	assert.Equal(t, 50, s.Int(KeyTopComments))
	assert.Equal(t, "hot", s.String(KeySortMethod))
	assert.Equal(t, 60, s.Int(KeyFetchInterval))
	assert.False(t, s.Bool(KeyAutoEnabled))
	assert.True(t, s.Bool(KeyRankFallback))
	assert.Len(t, s.List(KeySubreddits), 5)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bot_config").Scan(&count))
	assert.Equal(t, len(Definitions()), count)
}

func TestNewSettingsSeed(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, "")

	s, err := NewSettings(ctx, db, map[string]string{KeySubreddits: "golang, rust"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"golang", "rust"}, s.List(KeySubreddits))

	_, err = NewSettings(ctx, openDB(t, ""), map[string]string{KeyFetchInterval: "1"}, nil)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestSetPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "settings.db")

	db := openDB(t, path)
	s, err := NewSettings(ctx, db, nil, nil)
	require.NoError(t, err)

	v, err := s.Set(ctx, KeySortMethod, "TOP")
	require.NoError(t, err)
	assert.Equal(t, "top", v.Str)

	_, err = s.Set(ctx, KeyAutoEnabled, "yes")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := NewSettings(ctx, openDB(t, path), map[string]string{KeySortMethod: "new"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "top", reopened.String(KeySortMethod), "stored value wins over seed")
	assert.True(t, reopened.Bool(KeyAutoEnabled))
}

func TestNewSettingsReplacesInvalidStoredRows(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, filepath.Join(t.TempDir(), "settings.db"))

	rows := []struct{ key, value, kind string }{
		{KeyFetchInterval, "0", "int"},
		{KeyBatchSize, "-3", "int"},
		{KeySortMethod, "bogus", "str"},
		{KeyTopComments, "many", "int"},
		{KeyPostFetchCount, "25", "int"},
	}
	for _, r := range rows {
		_, err := db.ExecContext(ctx,
			"INSERT INTO bot_config (config_key, config_value, config_type, description, updated_at) VALUES (?, ?, ?, '', 0)",
			r.key, r.value, r.kind)
		require.NoError(t, err)
	}

	s, err := NewSettings(ctx, db, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 60, s.Int(KeyFetchInterval))
	assert.Equal(t, time.Hour, s.Interval(time.Minute))
	assert.Equal(t, 10, s.Int(KeyBatchSize))
	assert.Equal(t, "hot", s.String(KeySortMethod))
	assert.Equal(t, 50, s.Int(KeyTopComments))
	assert.Equal(t, 25, s.Int(KeyPostFetchCount), "valid rows are kept")

	var stored string
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT config_value FROM bot_config WHERE config_key = ?", KeyFetchInterval).Scan(&stored))
	assert.Equal(t, "60", stored)
}

func TestSetRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s, err := NewSettings(ctx, openDB(t, ""), nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		key  string
		raw  string
		want error
	}{
		{"unknown key", "NOPE", "1", ErrUnknownKey},
		{"interval too small", KeyFetchInterval, "4", ErrInvalidValue},
		{"not a number", KeyBatchSize, "ten", ErrInvalidValue},
		{"zero batch", KeyBatchSize, "0", ErrInvalidValue},
		{"bad sort", KeySortMethod, "best", ErrInvalidValue},
		{"bad window", KeyTimeFilter, "decade", ErrInvalidValue},
		{"bad bool", KeyAutoEnabled, "maybe", ErrInvalidValue},
		{"bad source name", KeySubreddits, "golang,r/rust", ErrInvalidValue},
		{"empty list", KeySubreddits, " , ", ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Set(ctx, tt.key, tt.raw)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, 60, s.Int(KeyFetchInterval), "rejected values are not stored")

	v, err := s.Set(ctx, KeyFetchInterval, "5")
	require.NoError(t, err)
	assert.Equal(t, 5, v.Int)
}

func TestAllIsSorted(t *testing.T) {
	s, err := NewSettings(context.Background(), openDB(t, ""), nil, nil)
	require.NoError(t, err)

	all := s.All()
	require.Len(t, all, len(Definitions()))
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Key, all[i].Key)
	}
	assert.False(t, all[0].UpdatedAt.IsZero())
}

func TestSourceSpecs(t *testing.T) {
	ctx := context.Background()
	s, err := NewSettings(ctx, openDB(t, ""), map[string]string{
		KeySubreddits:      "golang,rust",
		KeySortMethod:      "top",
		KeyTimeFilter:      "week",
		KeyPostFetchCount:  "5",
		KeyCommentsPerPost: "3",
	}, nil)
	require.NoError(t, err)

	specs := s.SourceSpecs()
	require.Len(t, specs, 2)
	assert.Equal(t, models.SourceSpec{
		Name: "golang", ParentLimit: 5, Mode: models.RankTop, TimeWindow: "week", ChildLimit: 3,
	}, specs[0])
	assert.Equal(t, "rust", specs[1].Name)

	assert.Equal(t, 60*time.Minute, s.Interval(time.Minute))
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "3", IntValue(3).String())
	assert.Equal(t, "true", BoolValue(true).String())
	assert.Equal(t, "a,b", ListValue([]string{"a", "b"}).String())
	assert.Equal(t, "hot", StrValue("hot").String())
}
