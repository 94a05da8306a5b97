package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pypeaday/soonish/internal/crypto"
)

// newTestDB gives each test its own named in-memory sqlite database (keyed
// by test name, so parallel tests never share one) pinned to a single
// connection — modernc.org/sqlite's ":memory:" is per-connection, and a
// pooled second connection would see an empty database.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	conn, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	require.NoError(t, Migrate(conn, "sqlite"))
	t.Cleanup(func() { conn.Close() })
	return &DB{db: conn}
}

// newTestCipher builds a Cipher with a fresh random key, for tests that need
// to exercise the encryption invariant without caring which key is used.
func newTestCipher() (*crypto.Cipher, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	return crypto.NewCipher(base64.StdEncoding.EncodeToString(raw))
}
