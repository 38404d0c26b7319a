package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DriverSQLite はSQLiteドライバ名。
const DriverSQLite = "sqlite"

// defaultSQLitePath はSQLitePath未指定時のファイルパス。
const defaultSQLitePath = "careercode.db"

// SQLite はドキュメントをJSONテキストとして保存するSQLiteストア。
// 識別子はUUIDを割り当て、検索はjson_extractで行う。
type SQLite struct {
	db *sql.DB
}

// OpenSQLite はSQLiteデータベースを開き、コレクションのテーブルを用意する。
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = defaultSQLitePath
	}
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// インメモリDBは接続ごとに別のDBになるため、接続を1本に固定する。
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Collection は名前に対応するコレクションを返す。
func (s *SQLite) Collection(name string) (Collection, error) {
	if err := knownCollection(name); err != nil {
		return nil, err
	}
	return &sqliteCollection{db: s.db, table: name}, nil
}

// Ping はデータベースへの疎通を確認する。
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close はデータベース接続を閉じる。
func (s *SQLite) Close(_ context.Context) error {
	return s.db.Close()
}

// sqliteCollection はSQLiteの1テーブルを1コレクションとして扱う。
type sqliteCollection struct {
	db    *sql.DB
	table string
}

// InsertOne はドキュメントを保存する。
func (c *sqliteCollection) InsertOne(ctx context.Context, doc Document) (*InsertResult, error) {
	body, err := encodeDocument(doc)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	query := fmt.Sprintf("INSERT INTO %s (id, doc) VALUES (?, ?)", c.table)
	if _, err := c.db.ExecContext(ctx, query, id, body); err != nil {
		return nil, fmt.Errorf("%sへの挿入に失敗: %w", c.table, err)
	}
	return &InsertResult{Acknowledged: true, InsertedID: id}, nil
}

// Find はフィルタに一致するドキュメントを挿入順に返す。
func (c *sqliteCollection) Find(ctx context.Context, filter Filter) ([]Document, error) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		conds []string
		args  []any
	)
	for _, k := range keys {
		expr, err := fieldExpr(k)
		if err != nil {
			return nil, err
		}
		if filter[k] == nil {
			conds = append(conds, expr+" IS NULL")
			continue
		}
		if _, ok := filter[k].(string); ok {
			if guard := textGuard(k); guard != "" {
				conds = append(conds, guard)
			}
		}
		conds = append(conds, expr+" = ?")
		args = append(args, filter[k])
	}

	query := fmt.Sprintf("SELECT id, doc FROM %s", c.table)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY rowid"
	return c.query(ctx, query, args...)
}

// FindByID は識別子に一致するドキュメントを返す。存在しない場合はnilを返す。
func (c *sqliteCollection) FindByID(ctx context.Context, id string) (Document, error) {
	query := fmt.Sprintf("SELECT id, doc FROM %s WHERE id = ?", c.table)
	var docID, body string
	err := c.db.QueryRowContext(ctx, query, id).Scan(&docID, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%sの取得に失敗: %w", c.table, err)
	}
	return decodeDocument(docID, body)
}

// FindByIDs は識別子の集合に一致するドキュメントを返す。
func (c *sqliteCollection) FindByIDs(ctx context.Context, ids []string) ([]Document, error) {
	ids = uniqueStrings(ids)
	if len(ids) == 0 {
		return []Document{}, nil
	}

	query := fmt.Sprintf("SELECT id, doc FROM %s WHERE id IN (%s) ORDER BY rowid", c.table, placeholders(len(ids)))
	return c.query(ctx, query, stringArgs(ids)...)
}

// CountBy はfieldの値ごとのドキュメント数を1回の集計クエリで返す。
func (c *sqliteCollection) CountBy(ctx context.Context, field string, values []string) (map[string]int64, error) {
	expr, err := fieldExpr(field)
	if err != nil {
		return nil, err
	}
	values = uniqueStrings(values)
	counts := make(map[string]int64, len(values))
	if len(values) == 0 {
		return counts, nil
	}

	where := fmt.Sprintf("%s IN (%s)", expr, placeholders(len(values)))
	if guard := textGuard(field); guard != "" {
		where = guard + " AND " + where
	}
	query := fmt.Sprintf("SELECT %[1]s, COUNT(*) FROM %[2]s WHERE %[3]s GROUP BY %[1]s", expr, c.table, where)
	rows, err := c.db.QueryContext(ctx, query, stringArgs(values)...)
	if err != nil {
		return nil, fmt.Errorf("%sの集計に失敗: %w", c.table, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			key   string
			count int64
		)
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("%sの集計結果の読み取りに失敗: %w", c.table, err)
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

// SetField は識別子に一致するドキュメントのfieldだけを更新する。
// 一致しない場合もエラーにせず、MatchedCount=0の確認応答を返す。
func (c *sqliteCollection) SetField(ctx context.Context, id, field string, value any) (*UpdateResult, error) {
	if field == IDField {
		return nil, fmt.Errorf("%w: %sは更新できません", ErrInvalidField, IDField)
	}
	if err := validateField(field); err != nil {
		return nil, err
	}
	normalized, err := normalizeJSON(value)
	if err != nil {
		return nil, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var body string
	err = tx.QueryRowContext(ctx, fmt.Sprintf("SELECT doc FROM %s WHERE id = ?", c.table), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return &UpdateResult{Acknowledged: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%sの取得に失敗: %w", c.table, err)
	}

	doc := Document{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("ドキュメントのデシリアライズに失敗: %w", err)
	}
	if current, ok := doc[field]; ok && reflect.DeepEqual(current, normalized) {
		return &UpdateResult{Acknowledged: true, MatchedCount: 1}, nil
	}
	doc[field] = normalized

	updated, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("ドキュメントのシリアライズに失敗: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET doc = ? WHERE id = ?", c.table), string(updated), id); err != nil {
		return nil, fmt.Errorf("%sの更新に失敗: %w", c.table, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return &UpdateResult{Acknowledged: true, MatchedCount: 1, ModifiedCount: 1}, nil
}

// query はid, docの2列を返すクエリを実行してドキュメントに変換する。
func (c *sqliteCollection) query(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%sの検索に失敗: %w", c.table, err)
	}
	defer func() { _ = rows.Close() }()

	docs := []Document{}
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("%sの読み取りに失敗: %w", c.table, err)
		}
		doc, err := decodeDocument(id, body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// fieldExpr はフィールド名をSQL式に変換する。_idは主キー列を指す。
func fieldExpr(field string) (string, error) {
	if field == IDField {
		return "id", nil
	}
	if err := validateField(field); err != nil {
		return "", err
	}
	return fmt.Sprintf("json_extract(doc, '$.%s')", field), nil
}

// textGuard はfieldの値がJSON文字列であることを求める条件式を返す。
// json_extractは配列やオブジェクトをJSONテキストとして返すため、文字列との比較の前に型を確かめる。
// fieldは検証済みであること。_idは常に文字列のため空文字列を返す。
func textGuard(field string) string {
	if field == IDField {
		return ""
	}
	return fmt.Sprintf("json_type(doc, '$.%s') = 'text'", field)
}

// encodeDocument は_idを除いたドキュメントをJSONテキストにする。
func encodeDocument(doc Document) (string, error) {
	stored := make(Document, len(doc))
	for k, v := range doc {
		if k == IDField {
			continue
		}
		stored[k] = v
	}
	body, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("ドキュメントのシリアライズに失敗: %w", err)
	}
	return string(body), nil
}

// decodeDocument はJSONテキストをドキュメントに戻し、_idを設定する。
func decodeDocument(id, body string) (Document, error) {
	doc := Document{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("ドキュメントのデシリアライズに失敗: %w", err)
	}
	doc[IDField] = id
	return doc, nil
}

// normalizeJSON は値をJSONとして往復させ、保存後と同じ型に揃える。
func normalizeJSON(value any) (any, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("値のシリアライズに失敗: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(body, &normalized); err != nil {
		return nil, fmt.Errorf("値のデシリアライズに失敗: %w", err)
	}
	return normalized, nil
}

// placeholders はn個のプレースホルダをカンマ区切りで返す。
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// stringArgs は文字列スライスをクエリ引数に変換する。
func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// uniqueStrings は空文字列と重複を取り除く。順序は最初の出現順を保つ。
func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
