// Package timeres 将用户输入的本地日期、时间与 IANA 时区解析为
// 本地计划时刻和 UTC 触发时刻。
package timeres

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// 规范时间格式，字典序与时间顺序一致。
const (
	Layout       = "2006-01-02 15:04:05"
	MinuteLayout = "2006-01-02 15:04"
	DateLayout   = "2006-01-02"
)

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

var monthNames = map[string]time.Month{
	"january":   time.January,
	"february":  time.February,
	"march":     time.March,
	"april":     time.April,
	"may":       time.May,
	"june":      time.June,
	"july":      time.July,
	"august":    time.August,
	"september": time.September,
	"october":   time.October,
	"november":  time.November,
	"december":  time.December,
}

// ValidationError 表示输入无法解析为合法时刻。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Input 是一次解析请求。Day / Month / Year 保持原始字符串，由解析器严格校验。
type Input struct {
	Day         string
	Month       string
	Year        string
	Clock       string // HH:MM (24 小时制)
	Timezone    string // IANA 时区标识
	LeadMinutes int
}

// Result 是解析结果，两者均精确到分钟。
type Result struct {
	ScheduledLocal time.Time // 位于 Input.Timezone 的本地时刻
	FireUTC        time.Time // ScheduledLocal 减去提前量后的 UTC 时刻
}

// Resolve 计算提醒的本地计划时刻与 UTC 触发时刻。
//
// 日期必须能精确往返（2 月 31 日报错而非顺延），落在夏令时跳变空档内的
// 本地时间同样报错。负的提前量按 0 处理。
//
// 参数:
//
//	in: 日期、时间、时区与提前分钟数
//
// 返回值:
//
//	Result: 本地计划时刻与 UTC 触发时刻
//	error: 任一字段非法时返回 *ValidationError
func Resolve(in Input) (Result, error) {
	loc, err := LoadZone(in.Timezone)
	if err != nil {
		return Result{}, err
	}
	date, err := ParseDate(in.Day, in.Month, in.Year)
	if err != nil {
		return Result{}, err
	}
	hour, minute, err := ParseClock(in.Clock)
	if err != nil {
		return Result{}, err
	}

	local := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, loc)
	if local.Year() != date.Year() || local.Month() != date.Month() || local.Day() != date.Day() ||
		local.Hour() != hour || local.Minute() != minute {
		return Result{}, invalid("time", "%s %02d:%02d does not exist in %s", date.Format(DateLayout), hour, minute, loc)
	}

	lead := in.LeadMinutes
	if lead < 0 {
		lead = 0
	}
	return Result{
		ScheduledLocal: local,
		FireUTC:        local.Add(-time.Duration(lead) * time.Minute).UTC(),
	}, nil
}

// LoadZone 解析 IANA 时区。空值与进程本地时区 "Local" 不被接受。
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("timezone", "timezone not detected")
	}
	if name == "Local" {
		return nil, invalid("timezone", "%q is not an IANA zone", name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, invalid("timezone", "unknown zone %q", name)
	}
	return loc, nil
}

// ParseMonth 接受 1-12 的整数或不区分大小写的英文月份全称。
func ParseMonth(raw string) (time.Month, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return 0, invalid("month", "required")
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n < 1 || n > 12 {
			return 0, invalid("month", "%d out of range", n)
		}
		return time.Month(n), nil
	}
	if m, ok := monthNames[strings.ToLower(v)]; ok {
		return m, nil
	}
	return 0, invalid("month", "unknown month %q", v)
}

// ParseDate 校验日、月、年并返回该日期 (UTC 零点)。
func ParseDate(day, month, year string) (time.Time, error) {
	d, err := strconv.Atoi(strings.TrimSpace(day))
	if err != nil {
		return time.Time{}, invalid("day", "%q is not an integer", day)
	}
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil {
		return time.Time{}, invalid("year", "%q is not an integer", year)
	}
	if y < 1 || y > 9999 {
		return time.Time{}, invalid("year", "%d out of range", y)
	}
	m, err := ParseMonth(month)
	if err != nil {
		return time.Time{}, err
	}
	date := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if date.Year() != y || date.Month() != m || date.Day() != d {
		return time.Time{}, invalid("day", "%04d-%02d-%02d is not a calendar date", y, int(m), d)
	}
	return date, nil
}

// ParseClock 校验严格的 24 小时制 HH:MM。
func ParseClock(raw string) (hour, minute int, err error) {
	v := strings.TrimSpace(raw)
	match := clockPattern.FindStringSubmatch(v)
	if match == nil {
		return 0, 0, invalid("time", "%q is not HH:MM", raw)
	}
	hour, _ = strconv.Atoi(match[1])
	minute, _ = strconv.Atoi(match[2])
	return hour, minute, nil
}

// LeadMinutes 将请求中的提前量转换为非负整数分钟。
// 缺失或非数字时为 0，负数按 0 处理，小数向零截断。
func LeadMinutes(raw any) int {
	var f float64
	switch v := raw.(type) {
	case nil:
		return 0
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case float64:
		f = v
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}

// Format 返回 t 的规范存储形式 "YYYY-MM-DD HH:MM:SS"。
func Format(t time.Time) string {
	return t.Format(Layout)
}

// FormatMinute 返回对外展示的 "YYYY-MM-DD HH:MM"。
func FormatMinute(t time.Time) string {
	return t.Format(MinuteLayout)
}

// Parse 在 loc 中解析规范形式，带秒或不带秒均可，结果截断到分钟。
func Parse(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s = strings.TrimSpace(s)
	t, err := time.ParseInLocation(Layout, s, loc)
	if err != nil {
		t, err = time.ParseInLocation(MinuteLayout, s, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
	}
	return t.Truncate(time.Minute), nil
}

// ToMinute 将规范存储形式转换为分钟精度展示形式，无法解析时原样返回。
func ToMinute(s string) string {
	t, err := Parse(s, time.UTC)
	if err != nil {
		return s
	}
	return FormatMinute(t)
}
