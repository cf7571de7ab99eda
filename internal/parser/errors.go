// Package parser は公式アカウント記事ページのHTMLから構造化された記事情報を取り出す。
//
// 各フィールドは優先順位付きのフォールバックで抽出される。
// 関数は全て状態を持たず、並行呼び出しに対して安全。
package parser

import "errors"

// 抽出失敗を表すセンチネルエラー。呼び出し側はerrors.Isで判定する。
var (
	// ErrMalformedURL はURLからbiz_idを取り出せない場合のエラー。
	ErrMalformedURL = errors.New("parser: no __biz parameter in url")
	// ErrTimeExtraction は有効な発行日時が見つからない場合のエラー。
	ErrTimeExtraction = errors.New("parser: no valid publish time")
	// ErrSummaryExtraction は要約の抽出元が見つからない場合のエラー。
	ErrSummaryExtraction = errors.New("parser: no summary source")
	// ErrEmptyDocument は空のHTMLが渡された場合のエラー。
	ErrEmptyDocument = errors.New("parser: empty document")
)
