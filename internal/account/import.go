package account

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/mpheat/internal/model"
	"github.com/hitoshi/mpheat/internal/parser"
	"github.com/hitoshi/mpheat/internal/repository"
)

// CSVの必須列。
const (
	ColumnName    = "name"
	ColumnSeedURL = "seed_url"
	ColumnStar    = "star"
)

// 行単位のエラー理由。
const (
	ReasonNameRequired   = "Name is required"
	ReasonInvalidURL     = "Invalid WeChat URL"
	ReasonInvalidStar    = "Star rating must be between 1 and 5"
	ReasonBizNotResolved = "Cannot extract biz_id"
)

// RowError はCSVの1行の検証エラー。Rowはヘッダを1行目とした行番号。
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// ImportResult はCSV一括登録の結果。
type ImportResult struct {
	Inserted int        `json:"inserted"`
	Skipped  int        `json:"skipped"`
	Errors   []RowError `json:"errors"`
}

type importRow struct {
	row     int
	name    string
	seedURL string
	bizID   string
	star    int
}

// Import はCSV（name,seed_url,star）からアカウントを一括登録する。
// ヘッダは列順・大文字小文字を問わずちょうど3列であること。ヘッダ不正はInvalidCSVエラー。
// 行ごとの検証エラーは結果のErrorsに積み、登録済みまたはファイル内で重複するbiz_idは
// Skippedとして数える。
func (s *Service) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, model.NewInvalidCSVError("CSV file is empty")
	}
	if err != nil {
		return nil, model.NewInvalidCSVError(fmt.Sprintf("Cannot read CSV header: %v", err))
	}
	cols, err := headerColumns(header)
	if err != nil {
		return nil, model.NewInvalidCSVError(err.Error())
	}

	result := &ImportResult{Errors: []RowError{}}
	var rows []importRow
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, model.NewInvalidCSVError(fmt.Sprintf("Malformed CSV: %v", err))
		}
		// 行番号はファイル上の行（ヘッダが1行目）
		rowNum, _ := cr.FieldPos(0)
		if isBlankRecord(record) {
			continue
		}

		row, reason := parseRow(record, cols, rowNum)
		if reason != "" {
			result.Errors = append(result.Errors, RowError{Row: rowNum, Reason: reason})
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return result, nil
	}

	bizIDs := make([]string, len(rows))
	for i, row := range rows {
		bizIDs[i] = row.bizID
	}
	existing, err := s.accountRepo.ExistingBizIDs(ctx, bizIDs)
	if err != nil {
		return nil, fmt.Errorf("登録済みアカウントの確認に失敗しました: %w", err)
	}

	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if existing[row.bizID] || seen[row.bizID] {
			result.Skipped++
			continue
		}
		seen[row.bizID] = true

		a := &model.Account{
			ID:       uuid.New().String(),
			BizID:    row.bizID,
			Name:     row.name,
			SeedURL:  row.seedURL,
			Star:     row.star,
			IsActive: true,
		}
		if err := s.accountRepo.Create(ctx, a); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				result.Skipped++
				continue
			}
			return nil, fmt.Errorf("%d行目のアカウント作成に失敗しました: %w", row.row, err)
		}
		result.Inserted++
	}

	s.logger.Info("CSVからアカウントを一括登録しました",
		slog.Int("inserted", result.Inserted),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// headerColumns はヘッダ行から各必須列の位置を返す。
func headerColumns(header []string) (map[string]int, error) {
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	cols := make(map[string]int, 3)
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		switch name {
		case ColumnName, ColumnSeedURL, ColumnStar:
			if _, dup := cols[name]; dup {
				return nil, fmt.Errorf("Duplicate column in header: %s", name)
			}
			cols[name] = i
		default:
			return nil, fmt.Errorf("Unexpected column in header: %q", h)
		}
	}
	if len(cols) != 3 {
		return nil, fmt.Errorf("Header must be exactly %s,%s,%s", ColumnName, ColumnSeedURL, ColumnStar)
	}
	return cols, nil
}

func parseRow(record []string, cols map[string]int, rowNum int) (importRow, string) {
	field := func(col string) string {
		i := cols[col]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	row := importRow{row: rowNum, name: field(ColumnName), seedURL: field(ColumnSeedURL)}
	if row.name == "" {
		return row, ReasonNameRequired
	}
	if !parser.IsWeChatArticleURL(row.seedURL) {
		return row, ReasonInvalidURL
	}
	star, err := strconv.Atoi(field(ColumnStar))
	if err != nil || !ValidStar(star) {
		return row, ReasonInvalidStar
	}
	row.star = star

	bizID, err := parser.ExtractAccountID(row.seedURL)
	if err != nil {
		return row, ReasonBizNotResolved
	}
	row.bizID = bizID
	return row, ""
}

func isBlankRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
