// Package idtoken はIDプロバイダー（Firebase Authentication）が発行した
// IDトークンを検証する。
//
// 検証はFirebase Admin SDKに任せ、結果からメールアドレスとUIDを取り出して
// 呼び出し元へ返す。サービスアカウントの鍵ファイルを指定した場合は
// トークンの失効とユーザーの無効化も確認する。
package idtoken
