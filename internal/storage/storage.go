// Package storage はオブジェクトストレージへのアップロードと
// 公開URL解決を提供する。
package storage

import "context"

// ObjectStorage はオブジェクトストレージの操作インターフェース。
// 実装を差し替えられるようにステージ側はこのインターフェースに依存する。
type ObjectStorage interface {
	// UploadObject はオブジェクトをアップロードする。同一パスへの
	// 再アップロードは上書きとして成功する（リトライの冪等性のため）。
	UploadObject(ctx context.Context, path, contentType string, data []byte) error

	// PublicURL はオブジェクトの公開URLを返す。ネットワークアクセスは行わない。
	PublicURL(path string) string

	// CreateSignedUploadURL は期限付きアップロードURLを発行する。
	// 外部のレンダリングバックエンドが直接アップロードする経路で使う。
	CreateSignedUploadURL(ctx context.Context, path string) (string, error)
}
