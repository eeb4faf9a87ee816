// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はパイプラインエラーの分類を表す。
type ErrorKind string

const (
	// KindValidation はペイロード不正。副作用なしで即座に失敗する。
	KindValidation ErrorKind = "validation"
	// KindAuth は内部API認証情報の欠落・不正。副作用なしで即座に失敗する。
	KindAuth ErrorKind = "auth"
	// KindUpstream はレンダリング・フェッチ・OCRなど外部バックエンドの失敗。
	KindUpstream ErrorKind = "upstream"
	// KindStorage はオブジェクトストレージへのアップロード・署名URL発行の失敗。
	KindStorage ErrorKind = "storage"
	// KindPersistence はデータベース書き込みの失敗。
	KindPersistence ErrorKind = "persistence"
	// KindNotFound は参照先のブックマーク・カテゴリが存在しないか、呼び出し元の所有でない。
	KindNotFound ErrorKind = "not_found"
)

// PipelineError はパイプライン内の分類済みエラーを表す。
// Opはリトライの相関に使う操作タグ（例: "screenshot.capture"）。
type PipelineError struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, e.Message)
}

// Unwrap はラップされた元エラーを返す。
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewValidationError は検証エラーを生成する。
func NewValidationError(op, message string) *PipelineError {
	return &PipelineError{Kind: KindValidation, Op: op, Message: message}
}

// NewAuthError は認証エラーを生成する。
func NewAuthError(op, message string) *PipelineError {
	return &PipelineError{Kind: KindAuth, Op: op, Message: message}
}

// NewUpstreamError は外部バックエンド失敗のエラーを生成する。
func NewUpstreamError(op, message string, err error) *PipelineError {
	return &PipelineError{Kind: KindUpstream, Op: op, Message: message, Err: err}
}

// NewStorageError はオブジェクトストレージ失敗のエラーを生成する。
func NewStorageError(op, message string, err error) *PipelineError {
	return &PipelineError{Kind: KindStorage, Op: op, Message: message, Err: err}
}

// NewPersistenceError はデータベース書き込み失敗のエラーを生成する。
func NewPersistenceError(op, message string, err error) *PipelineError {
	return &PipelineError{Kind: KindPersistence, Op: op, Message: message, Err: err}
}

// NewNotFoundError は参照先未検出のエラーを生成する。
func NewNotFoundError(op, message string) *PipelineError {
	return &PipelineError{Kind: KindNotFound, Op: op, Message: message}
}

// KindOf はエラーからErrorKindを取り出す。
// PipelineErrorでない場合はKindUpstreamとして扱う。
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUpstream
}
