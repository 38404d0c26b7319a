package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// schemaVersion はSQLiteのテーブル定義のバージョン。PRAGMA user_versionに記録する。
const schemaVersion = 1

// sqliteIndexes はコレクションごとにjson_extractの式インデックスを張るフィールド。
// 並び順がテーブルの作成順になる。
var sqliteIndexes = []struct {
	collection string
	fields     []string
}{
	{collection: CollectionJobs, fields: []string{"hr_email"}},
	{collection: CollectionApplications, fields: []string{"jobId", "applicant"}},
}

// ensureSchema は各コレクションのテーブルとインデックスを作成する。
// user_versionがschemaVersion以上なら何もしない。
func ensureSchema(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("スキーマバージョンの取得に失敗: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, c := range sqliteIndexes {
		if err := createCollectionTable(ctx, tx, c.collection, c.fields); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("スキーマバージョンの記録に失敗: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	log.Printf("[Schema] SQLiteのスキーマをバージョン%dに更新しました", schemaVersion)
	return nil
}

// createCollectionTable はコレクション1つ分のテーブルとインデックスを作成する。
// docは_idを除いたJSONオブジェクト。jobIdなどの参照に外部キー制約は付けない。
func createCollectionTable(ctx context.Context, tx *sql.Tx, collection string, fields []string) error {
	table := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		doc TEXT NOT NULL CHECK (json_valid(doc)),
		created_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`, collection)
	if _, err := tx.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("%sテーブルの作成に失敗: %w", collection, err)
	}

	for _, field := range fields {
		expr, err := fieldExpr(field)
		if err != nil {
			return err
		}
		index := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)", collection, field, collection, expr)
		if _, err := tx.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("%s.%sのインデックス作成に失敗: %w", collection, field, err)
		}
	}
	return nil
}
