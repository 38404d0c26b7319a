// Package jobboard は求人掲示板APIの内部実装を提供する。
//
// 求人（jobs）と応募（applications）の2つのコレクションを扱うサービス層と、
// それらをHTTPに公開するServerから成る。求人の作成・一覧・取得、応募の作成・
// 一覧・ステータス更新を提供し、利用者ごとの一覧はセッションCookieまたは
// IDプロバイダーのトークンで認証した上で、クエリのメールアドレスと
// 検証済みのメールアドレスが一致する場合にのみ返す。
//
// ストアへの接続と資格情報の検証器はNewServerに注入する。
package jobboard
