// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// セッションCookieとIDプロバイダーのBearerトークンという2種類の資格情報を
// 共通のVerifierインターフェースで検証し、検証済みのIdentityをコンテキストに
// 設定する。ほかにパニックリカバリ、CORS、レート制限を含む。
package middleware
