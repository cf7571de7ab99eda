package parser

import (
	"regexp"
	"strconv"
	"time"
)

// timePatterns は発行日時の書式（優先順）。
// グループは 年, 月, 日, 時, 分, 秒（省略可）。
var timePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日\s+(\d{1,2}):(\d{2})(?::(\d{2}))?`),
	regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})\s+(\d{1,2}):(\d{2})(?::(\d{2}))?`),
	regexp.MustCompile(`(\d{4})/(\d{1,2})/(\d{1,2})\s+(\d{1,2}):(\d{2})(?::(\d{2}))?`),
	regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})\s+(\d{1,2}):(\d{2}):(\d{2})`),
}

// ParsePublishTime はテキスト中の最初の有効な日時をUTCとして返す。
// 書式を優先順に試し、各書式では出現順に検証する。
// 範囲外の値（13月、2月30日、25時など）を持つ候補は読み飛ばす。
func ParsePublishTime(text string) (time.Time, error) {
	for _, p := range timePatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			if t, ok := buildTime(m); ok {
				return t, nil
			}
		}
	}
	return time.Time{}, ErrTimeExtraction
}

// containsTimestamp は行が日時表記を含むかを返す。要約候補から日付行を除くのに使う。
func containsTimestamp(line string) bool {
	for _, p := range timePatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

func buildTime(m []string) (time.Time, bool) {
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])
	second := 0
	if m[6] != "" {
		second, _ = strconv.Atoi(m[6])
	}

	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	if hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, false
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	// time.Dateは2月31日を3月に繰り上げるため、日付が変わったら不正とみなす
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}
