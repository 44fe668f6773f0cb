package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestIdempotencySchema(t *testing.T) {
	db := newTestDB(t)

	// Build the schema by hand so the constraints under test are exactly the
	// ones production migration declares. Statements run one at a time; the
	// driver is unreliable with multi-statement Exec.
	m := db.Migrator()
	_ = m.DropTable("idempotency")
	if err := db.Exec(`CREATE TABLE idempotency (
		id          TEXT     NOT NULL PRIMARY KEY,
		user_id     TEXT     NOT NULL,
		key         TEXT     NOT NULL,
		payment_id  TEXT     NOT NULL,
		status      INTEGER  NOT NULL,
		created_at  DATETIME NOT NULL,
		expires_at  DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_user_key ON idempotency (user_id, key)`).Error; err != nil {
		t.Fatalf("create index: %v", err)
	}

	if !m.HasTable(&Idempotency{}) {
		t.Fatalf("table %q missing", Idempotency{}.TableName())
	}
	if !m.HasIndex(&Idempotency{}, "ux_user_key") {
		t.Fatal("composite index ux_user_key missing")
	}

	now := time.Now().UTC()
	cols := []string{"id", "user_id", "key", "payment_id", "status", "created_at", "expires_at"}
	insert := func(vals ...any) error {
		return db.Exec(`INSERT INTO idempotency ("id","user_id","key","payment_id","status","created_at","expires_at")
			VALUES (?,?,?,?,?,?,?)`, vals...).Error
	}

	// every column rejects NULL
	for i, col := range cols[1:] {
		vals := []any{"x-" + col, "u1", "k1", "p1", 1, now, now.Add(time.Hour)}
		vals[i+1] = nil
		if insert(vals...) == nil {
			t.Fatalf("NULL %s accepted", col)
		}
	}

	rec := &Idempotency{
		ID:        "id-1",
		UserID:    "u1",
		Key:       "k1",
		PaymentID: "p1",
		Status:    1,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	var got Idempotency
	if err := db.First(&got, "id = ?", "id-1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.UserID != "u1" || got.Key != "k1" || got.PaymentID != "p1" || got.Status != 1 {
		t.Fatalf("row = %+v", got)
	}

	// a second record under the same (user_id, key) must be rejected so two
	// concurrent creates can never both win
	if insert("id-2", "u1", "k1", "p2", 1, now, now.Add(2*time.Hour)) == nil {
		t.Fatal("duplicate (user_id, key) accepted")
	}
}
