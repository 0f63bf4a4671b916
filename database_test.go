package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testYourPassword   = "pass-you"
	testFriendPassword = "pass-friend"
)

func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(filepath.Join(t.TempDir(), "logbook.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

// seedTestUsers inserts the two fixed accounts with cheap hashes so tests
// don't pay the production bcrypt cost on every run.
func seedTestUsers(t *testing.T, s *SQLiteDatabase) {
	t.Helper()

	users := []struct {
		id       int64
		name     string
		password string
	}{
		{UserIDYou, UsernameYou, testYourPassword},
		{UserIDFriend, UsernameFriend, testFriendPassword},
	}

	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		require.NoError(t, err)

		_, err = s.db.Exec(`INSERT INTO user (id, username, password_hash) VALUES (?, ?, ?)`,
			u.id, u.name, string(hash))
		require.NoError(t, err)
	}
}

func testMemory(owner int64) Memory {
	return Memory{
		Title:     "Trip",
		Story:     "Fun",
		Latitude:  1.0,
		Longitude: 2.0,
		Date:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		UserID:    owner,
	}
}

func TestSeedUsers(t *testing.T) {
	t.Setenv(YourPasswordEnv, "first-secret")
	t.Setenv(FriendPasswordEnv, "other-secret")

	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SeedUsers(ctx))

	you, err := db.GetUserByID(ctx, UserIDYou)
	require.NoError(t, err)
	assert.Equal(t, UsernameYou, you.Username)
	assert.True(t, verifyPassword("first-secret", you.PasswordHash))
	assert.NotContains(t, you.PasswordHash, "first-secret")

	friend, err := db.GetUserByUsername(ctx, UsernameFriend)
	require.NoError(t, err)
	assert.Equal(t, UserIDFriend, friend.ID)

	// A second run with different configured passwords must not touch the
	// existing rows.
	t.Setenv(YourPasswordEnv, "changed-secret")
	require.NoError(t, db.SeedUsers(ctx))

	you2, err := db.GetUserByID(ctx, UserIDYou)
	require.NoError(t, err)
	assert.Equal(t, you.PasswordHash, you2.PasswordHash)
}

func TestSeedUsersMissingConfig(t *testing.T) {
	t.Setenv(YourPasswordEnv, "")
	t.Setenv(FriendPasswordEnv, "")

	db := newTestDB(t)

	err := db.SeedUsers(context.Background())
	assert.Error(t, err)

	_, err = db.GetUserByID(context.Background(), UserIDYou)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOtherUser(t *testing.T) {
	assert.Equal(t, UserIDFriend, otherUser(UserIDYou))
	assert.Equal(t, UserIDYou, otherUser(UserIDFriend))
}

func TestMemoryRoundTrip(t *testing.T) {
	db := newTestDB(t)
	seedTestUsers(t, db)
	ctx := context.Background()

	want := testMemory(UserIDYou)
	id, err := db.CreateMemory(ctx, want)
	require.NoError(t, err)

	got, err := db.GetMemoryByID(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, want.Title, got.Title)
	assert.Equal(t, want.Story, got.Story)
	assert.Equal(t, want.Latitude, got.Latitude)
	assert.Equal(t, want.Longitude, got.Longitude)
	assert.True(t, want.Date.Equal(got.Date))
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, "", got.PhotoURL)
}

func TestMemoryValidation(t *testing.T) {
	db := newTestDB(t)
	seedTestUsers(t, db)
	ctx := context.Background()

	m := testMemory(UserIDYou)
	m.Title = "  "
	_, err := db.CreateMemory(ctx, m)
	assert.ErrorIs(t, err, ErrValidation)

	m = testMemory(UserIDYou)
	m.Story = ""
	_, err = db.CreateMemory(ctx, m)
	assert.ErrorIs(t, err, ErrValidation)

	m = testMemory(UserIDYou)
	m.Date = time.Time{}
	_, err = db.CreateMemory(ctx, m)
	assert.ErrorIs(t, err, ErrValidation)

	memories, err := db.ListMemories(ctx)
	require.NoError(t, err)
	assert.Len(t, memories, 0)
}

func TestMemoryOwnership(t *testing.T) {
	db := newTestDB(t)
	seedTestUsers(t, db)
	ctx := context.Background()

	id, err := db.CreateMemory(ctx, testMemory(UserIDYou))
	require.NoError(t, err)

	update := testMemory(UserIDYou)
	update.Title = "Hijacked"

	err = db.UpdateMemory(ctx, id, UserIDFriend, update)
	assert.ErrorIs(t, err, ErrForbidden)

	err = db.DeleteMemory(ctx, id, UserIDFriend)
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := db.GetMemoryByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Trip", got.Title)

	// Missing rows stay distinguishable from foreign ones at this layer.
	err = db.UpdateMemory(ctx, id+100, UserIDYou, update)
	assert.ErrorIs(t, err, ErrNotFound)
	err = db.DeleteMemory(ctx, id+100, UserIDYou)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryUpdateByOwner(t *testing.T) {
	db := newTestDB(t)
	seedTestUsers(t, db)
	ctx := context.Background()

	id, err := db.CreateMemory(ctx, testMemory(UserIDYou))
	require.NoError(t, err)

	update := testMemory(UserIDYou)
	update.Title = "Roadtrip"
	update.PhotoURL = "static/uploads/abc_beach.jpg"

	require.NoError(t, db.UpdateMemory(ctx, id, UserIDYou, update))

	got, err := db.GetMemoryByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Roadtrip", got.Title)
	assert.Equal(t, "static/uploads/abc_beach.jpg", got.PhotoURL)
}

func TestDeleteMemoryTwice(t *testing.T) {
	db := newTestDB(t)
	seedTestUsers(t, db)
	ctx := context.Background()

	id, err := db.CreateMemory(ctx, testMemory(UserIDYou))
	require.NoError(t, err)

	require.NoError(t, db.DeleteMemory(ctx, id, UserIDYou))

	err = db.DeleteMemory(ctx, id, UserIDYou)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMemoriesNewestDateFirst(t *testing.T) {
	db := newTestDB(t)
	seedTestUsers(t, db)
	ctx := context.Background()

	dates := []time.Time{
		time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 12, 24, 0, 0, 0, 0, time.UTC),
	}

	for i, d := range dates {
		m := testMemory(UserIDYou)
		if i%2 == 1 {
			m.UserID = UserIDFriend
		}
		m.Date = d
		_, err := db.CreateMemory(ctx, m)
		require.NoError(t, err)
	}

	memories, err := db.ListMemories(ctx)
	require.NoError(t, err)
	require.Len(t, memories, 3)

	// Shared view: both owners' entries, newest date first.
	for i := 1; i < len(memories); i++ {
		assert.False(t, memories[i-1].Date.Before(memories[i].Date))
	}
}

func TestAppreciationRecipientInvariant(t *testing.T) {
	db := newTestDB(t)
	seedTestUsers(t, db)
	ctx := context.Background()

	for _, author := range []int64{UserIDYou, UserIDFriend} {
		id, err := db.CreateAppreciation(ctx, author, "thanks")
		require.NoError(t, err)

		note, err := db.GetAppreciationByID(ctx, id)
		require.NoError(t, err)

		assert.NotEqual(t, note.AuthorID, note.RecipientID)
		assert.Equal(t, otherUser(author), note.RecipientID)
	}
}

func TestAppreciationValidation(t *testing.T) {
	db := newTestDB(t)
	seedTestUsers(t, db)
	ctx := context.Background()

	_, err := db.CreateAppreciation(ctx, UserIDYou, "   ")
	assert.ErrorIs(t, err, ErrValidation)

	id, err := db.CreateAppreciation(ctx, UserIDYou, "thanks")
	require.NoError(t, err)

	err = db.UpdateAppreciation(ctx, id, UserIDYou, "")
	assert.ErrorIs(t, err, ErrValidation)

	note, err := db.GetAppreciationByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "thanks", note.Text)
}

func TestAppreciationOwnership(t *testing.T) {
	db := newTestDB(t)
	seedTestUsers(t, db)
	ctx := context.Background()

	id, err := db.CreateAppreciation(ctx, UserIDYou, "thanks")
	require.NoError(t, err)

	err = db.UpdateAppreciation(ctx, id, UserIDFriend, "mine now")
	assert.ErrorIs(t, err, ErrForbidden)

	err = db.DeleteAppreciation(ctx, id, UserIDFriend)
	assert.ErrorIs(t, err, ErrForbidden)

	note, err := db.GetAppreciationByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "thanks", note.Text)

	err = db.DeleteAppreciation(ctx, id+100, UserIDYou)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAppreciationsNewestFirstWithAuthor(t *testing.T) {
	db := newTestDB(t)
	seedTestUsers(t, db)
	ctx := context.Background()

	first, err := db.CreateAppreciation(ctx, UserIDYou, "thanks")
	require.NoError(t, err)
	second, err := db.CreateAppreciation(ctx, UserIDFriend, "right back at you")
	require.NoError(t, err)

	notes, err := db.ListAppreciations(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 2)

	assert.Equal(t, second, notes[0].ID)
	assert.Equal(t, UsernameFriend, notes[0].AuthorName)
	assert.Equal(t, first, notes[1].ID)
	assert.Equal(t, UsernameYou, notes[1].AuthorName)
}

func TestGetMemoryNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetMemoryByID(context.Background(), 42)
	assert.True(t, errors.Is(err, ErrNotFound))
}
