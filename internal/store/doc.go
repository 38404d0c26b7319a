// Package store はスキーマを持たないJSONドキュメントの保存先を提供する。
//
// 求人（jobs）と応募（applications）の2つのコレクションを、
// SQLite（JSON1によるドキュメント保存）またはMongoDBで扱う。
// どちらの実装もCollectionインターフェースで同じ振る舞いをする。
package store
