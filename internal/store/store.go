package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// IDField はドキュメントの識別子フィールド名。
const IDField = "_id"

const (
	// CollectionJobs は求人ドキュメントのコレクション名。
	CollectionJobs = "jobs"
	// CollectionApplications は応募ドキュメントのコレクション名。
	CollectionApplications = "applications"
)

var (
	// ErrUnknownCollection は存在しないコレクションを指定したことを表す。
	ErrUnknownCollection = errors.New("不明なコレクションです")
	// ErrInvalidField はフィールド名として使えない文字列を指定したことを表す。
	ErrInvalidField = errors.New("フィールド名が不正です")
	// ErrUnknownDriver は未対応のストアドライバを指定したことを表す。
	ErrUnknownDriver = errors.New("未対応のストアドライバです")
)

// fieldPattern はフィルタやカウントに使えるフィールド名のパターン。
var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Document はスキーマを持たないJSONドキュメント。
type Document map[string]any

// ID はドキュメントの識別子を返す。設定されていない場合は空文字列を返す。
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Filter はトップレベルフィールドの完全一致条件。空の場合はすべてに一致する。
type Filter map[string]any

// InsertResult は挿入の確認応答。
type InsertResult struct {
	// Acknowledged は書き込みが受理されたかどうか。
	Acknowledged bool `json:"acknowledged"`
	// InsertedID は割り当てられた識別子。
	InsertedID string `json:"insertedId"`
}

// UpdateResult は更新の確認応答。
type UpdateResult struct {
	// Acknowledged は書き込みが受理されたかどうか。
	Acknowledged bool `json:"acknowledged"`
	// MatchedCount は条件に一致したドキュメント数。
	MatchedCount int64 `json:"matchedCount"`
	// ModifiedCount は実際に変更されたドキュメント数。
	ModifiedCount int64 `json:"modifiedCount"`
	// UpsertedCount はupsertされたドキュメント数。常に0。
	UpsertedCount int64 `json:"upsertedCount"`
	// UpsertedID はupsertされたドキュメントの識別子。常にnull。
	UpsertedID *string `json:"upsertedId"`
}

// Collection はドキュメントの集合に対するクエリインターフェース。
// 各操作は単一ドキュメント単位でのみアトミック。
type Collection interface {
	// InsertOne はドキュメントを保存し、ストアが割り当てた識別子を返す。
	// ドキュメント内の_idは無視する。
	InsertOne(ctx context.Context, doc Document) (*InsertResult, error)
	// Find はフィルタに一致するドキュメントをストア本来の順序で返す。
	Find(ctx context.Context, filter Filter) ([]Document, error)
	// FindByID は識別子に一致するドキュメントを返す。存在しない場合はnilを返す。
	FindByID(ctx context.Context, id string) (Document, error)
	// FindByIDs は識別子の集合に一致するドキュメントを1回の問い合わせで返す。
	FindByIDs(ctx context.Context, ids []string) ([]Document, error)
	// CountBy はfieldの値がvaluesに含まれるドキュメント数を値ごとに返す。
	CountBy(ctx context.Context, field string, values []string) (map[string]int64, error)
	// SetField は識別子に一致するドキュメントのfieldだけを更新する。
	SetField(ctx context.Context, id, field string, value any) (*UpdateResult, error)
}

// Store はコレクションを提供するドキュメントストア。
type Store interface {
	// Collection は名前に対応するコレクションを返す。
	Collection(name string) (Collection, error)
	// Ping はストアへの疎通を確認する。
	Ping(ctx context.Context) error
	// Close はストアへの接続を閉じる。
	Close(ctx context.Context) error
}

// Config はストアの接続設定。
type Config struct {
	// Driver は"sqlite"または"mongo"。
	Driver string
	// SQLitePath はSQLiteのファイルパス。":memory:"も指定できる。
	SQLitePath string
	// MongoURI はMongoDBの接続URI。
	MongoURI string
	// MongoDatabase はMongoDBのデータベース名。
	MongoDatabase string
}

// Open は設定されたドライバでストアに接続する。
// 接続はプロセスの生存期間中保持し、終了時にCloseする。
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		s, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMongo:
		m, err := OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// validateField はフィールド名が使用可能か確認する。
func validateField(field string) error {
	if !fieldPattern.MatchString(field) {
		return fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	return nil
}

// knownCollection はコレクション名が既知か確認する。
func knownCollection(name string) error {
	switch name {
	case CollectionJobs, CollectionApplications:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
}
