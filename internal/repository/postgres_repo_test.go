package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hitoshi/shipkit/internal/model"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMockDB はsqlmockのDBを生成し、テスト終了時に期待値の充足を検証する。
func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var userRowColumns = []string{
	"id", "email", "username", "password_hash", "email_verified", "role",
	"is_active", "created_at", "updated_at", "last_login_at",
}

func TestPostgresUserRepo_FindByEmail(t *testing.T) {
	t.Run("メールアドレスは小文字化して検索される", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewPostgresUserRepo(db)

		now := time.Now()
		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1")).
			WithArgs("alice@example.com").
			WillReturnRows(sqlmock.NewRows(userRowColumns).
				AddRow("u-1", "alice@example.com", "alice", "hash", true, "admin", true, now, now, now))

		user, err := repo.FindByEmail(context.Background(), "Alice@Example.COM")

		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "u-1", user.ID)
		assert.Equal(t, model.RoleAdmin, user.Role)
		require.NotNil(t, user.LastLoginAt)
		assert.True(t, user.LastLoginAt.Equal(now))
	})

	t.Run("見つからない場合はnilを返す", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewPostgresUserRepo(db)

		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1")).
			WithArgs("nobody@example.com").
			WillReturnError(sql.ErrNoRows)

		user, err := repo.FindByEmail(context.Background(), "nobody@example.com")

		require.NoError(t, err)
		assert.Nil(t, user)
	})

	t.Run("DBエラーはラップして返す", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewPostgresUserRepo(db)

		dbErr := errors.New("connection reset")
		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1")).
			WillReturnError(dbErr)

		_, err := repo.FindByEmail(context.Background(), "x@example.com")

		require.Error(t, err)
		assert.ErrorIs(t, err, dbErr)
	})
}

func TestPostgresUserRepo_Create(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresUserRepo(db)

	now := time.Now()
	user := &model.User{
		ID: "u-1", Email: "Bob@Example.com", Username: "bob", PasswordHash: "hash",
		Role: model.RoleUser, IsActive: true, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs("u-1", "bob@example.com", "bob", "hash", false, "user", true, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), user))
}

func TestPostgresUserRepo_UpdatePassword_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresUserRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash = $2")).
		WithArgs("missing", "new-hash").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdatePassword(context.Background(), "missing", "new-hash")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "user not found")
}

func TestPostgresSessionRepo_DeleteExpired(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresSessionRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE expires_at <= now()")).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.DeleteExpired(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestPostgresSessionRepo_FindByID_Expired(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresSessionRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND expires_at > now()")).
		WithArgs("expired").
		WillReturnError(sql.ErrNoRows)

	session, err := repo.FindByID(context.Background(), "expired")

	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestPostgresFlagRepo_Upsert(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresFlagRepo(db)

	flag := &model.FeatureFlag{
		Name: "new_checkout", Description: "新しい購入フロー", Enabled: true,
		RolloutPercentage: 25, AllowedUsers: []string{"u-1"}, AllowedRoles: []string{"admin"},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO feature_flags")).
		WithArgs("new_checkout", "新しい購入フロー", true, 25,
			pq.Array([]string{"u-1"}), pq.Array([]string{"admin"})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), flag))
}

func TestPostgresFlagRepo_FindByName(t *testing.T) {
	t.Run("配列カラムを読み込む", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewPostgresFlagRepo(db)

		now := time.Now()
		mock.ExpectQuery(regexp.QuoteMeta("FROM feature_flags WHERE name = $1")).
			WithArgs("beta").
			WillReturnRows(sqlmock.NewRows([]string{
				"name", "description", "enabled", "rollout_percentage", "allowed_users", "allowed_roles", "updated_at",
			}).AddRow("beta", "", true, 50, "{u-1,u-2}", "{}", now))

		flag, err := repo.FindByName(context.Background(), "beta")

		require.NoError(t, err)
		require.NotNil(t, flag)
		assert.Equal(t, []string{"u-1", "u-2"}, flag.AllowedUsers)
		assert.Empty(t, flag.AllowedRoles)
		assert.Equal(t, 50, flag.RolloutPercentage)
	})

	t.Run("存在しない場合はnil", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewPostgresFlagRepo(db)

		mock.ExpectQuery(regexp.QuoteMeta("FROM feature_flags WHERE name = $1")).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		flag, err := repo.FindByName(context.Background(), "missing")

		require.NoError(t, err)
		assert.Nil(t, flag)
	})
}

func TestPostgresAuditRepo_List_BuildsFilter(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresAuditRepo(db)

	since := time.Now().Add(-time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta(
		"FROM audit_log WHERE user_id = $1 AND action = $2 AND created_at >= $3 ORDER BY created_at DESC LIMIT $4 OFFSET $5")).
		WithArgs("u-1", "auth.login", since, 10, 20).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "action", "resource_type", "resource_id", "details", "ip_address", "user_agent", "created_at",
		}).AddRow("a-1", nil, "auth.login", "user", "u-1", []byte(`{"ok":true}`), "10.0.0.1", "curl", since))

	entries, err := repo.List(context.Background(), model.AuditFilter{
		UserID: "u-1", Action: "auth.login", Since: since, Limit: 10, Offset: 20,
	})

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "", entries[0].UserID)
	assert.JSONEq(t, `{"ok":true}`, string(entries[0].Details))
}

func TestPostgresAuditRepo_Create_NullUser(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresAuditRepo(db)

	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WithArgs("a-1", sql.NullString{}, "auth.login_failed", "user", "", []byte("{}"), "127.0.0.1", "", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &model.AuditEntry{
		ID: "a-1", Action: "auth.login_failed", ResourceType: "user", IPAddress: "127.0.0.1", CreatedAt: now,
	})

	require.NoError(t, err)
}

func TestPostgresTableRepo_Insert_OrdersColumns(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresTableRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(
		`INSERT INTO "teams" ("id", "name", "owner_id") VALUES ($1, $2, $3) RETURNING "id", "name"`)).
		WithArgs("t-1", "Core", "u-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow([]byte("t-1"), "Core"))

	rec, err := repo.Insert(context.Background(), "teams",
		Record{"name": "Core", "owner_id": "u-1", "id": "t-1"}, []string{"id", "name"})

	require.NoError(t, err)
	assert.Equal(t, Record{"id": "t-1", "name": "Core"}, rec)
}

func TestPostgresTableRepo_List_WithPaging(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresTableRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT "id", "name" FROM "teams" WHERE "name" ILIKE $1 ORDER BY "name" ASC LIMIT $2 OFFSET $3`)).
		WithArgs("%co%", 20, 40).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("t-1", "Core"))

	recs, err := repo.List(context.Background(), TableQuery{
		Table: "teams", Columns: []string{"id", "name"},
		Where: `"name" ILIKE $1`, Args: []any{"%co%"},
		OrderBy: `"name" ASC`, Limit: 20, Offset: 40,
	})

	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Core", recs[0]["name"])
}

// jsonb列はJSONのまま返り、エンコード時に入れ子のオブジェクトになる
func TestPostgresTableRepo_List_JSONBColumnStaysJSON(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresTableRepo(db)

	rows := sqlmock.NewRowsWithColumnDefinition(
		mock.NewColumn("id").OfType("UUID", []byte{}),
		mock.NewColumn("details").OfType("JSONB", []byte{}),
	).AddRow([]byte("a-1"), []byte(`{"format":"csv"}`)).
		AddRow([]byte("a-2"), nil)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "details" FROM "audit_log"`)).
		WillReturnRows(rows)

	recs, err := repo.List(context.Background(), TableQuery{
		Table: "audit_log", Columns: []string{"id", "details"},
	})

	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a-1", recs[0]["id"])
	assert.Equal(t, json.RawMessage(`{"format":"csv"}`), recs[0]["details"])
	assert.Nil(t, recs[1]["details"])

	encoded, err := json.Marshal(recs[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a-1","details":{"format":"csv"}}`, string(encoded))
}

func TestPostgresTableRepo_Update_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresTableRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE "teams" SET "name" = $2 WHERE id = $1 RETURNING "id"`)).
		WithArgs("missing", "X").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec, err := repo.Update(context.Background(), "teams", "missing", Record{"name": "X"}, []string{"id"})

	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPostgresTableRepo_DeleteMany(t *testing.T) {
	t.Run("空のID一覧ではクエリを発行しない", func(t *testing.T) {
		db, _ := setupMockDB(t)
		repo := NewPostgresTableRepo(db)

		n, err := repo.DeleteMany(context.Background(), "teams", nil)

		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("削除件数を返す", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewPostgresTableRepo(db)

		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "teams" WHERE id::text = ANY($1)`)).
			WithArgs(pq.Array([]string{"a", "b"})).
			WillReturnResult(sqlmock.NewResult(0, 2))

		n, err := repo.DeleteMany(context.Background(), "teams", []string{"a", "b"})

		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}

func TestPostgresRolePermissionRepo_ListAll(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresRolePermissionRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT role, permission FROM role_permissions")).
		WillReturnRows(sqlmock.NewRows([]string{"role", "permission"}).
			AddRow("admin", "billing:manage").
			AddRow("moderator", "posts:hide"))

	perms, err := repo.ListAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"billing:manage"}, perms[model.RoleAdmin])
	assert.Equal(t, []string{"posts:hide"}, perms[model.RoleModerator])
}
