package converter

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTimePattern 时间模式无效.
var ErrInvalidTimePattern = errors.New("converter: 时间模式无效")

// TimePatternError 时间模式解析错误.
//
// Unit 与 Value 指出越界的单位和值；语法错误时 Value 为 -1.
type TimePatternError struct {
	Input  string
	Unit   string
	Value  int64
	Reason string
}

func (e *TimePatternError) Error() string {
	if e.Value >= 0 && e.Unit != "" {
		return fmt.Sprintf("converter: 时间模式 %q 中 %s 的值 %d %s", e.Input, e.Unit, e.Value, e.Reason)
	}
	return fmt.Sprintf("converter: 时间模式 %q 无效: %s", e.Input, e.Reason)
}

func (e *TimePatternError) Is(target error) bool {
	return target == ErrInvalidTimePattern
}

type timeUnit struct {
	name  string
	rank  int
	size  time.Duration
	limit int64 // 存在更大单位时的上限，0 表示不限制
}

var (
	unitDay    = timeUnit{"days", 0, 24 * time.Hour, 0}
	unitHour   = timeUnit{"hours", 1, time.Hour, 0}
	unitMinute = timeUnit{"minutes", 2, time.Minute, 59}
	unitSecond = timeUnit{"seconds", 3, time.Second, 59}
	unitMilli  = timeUnit{"milliseconds", 4, time.Millisecond, 999}
)

var unitAliases = map[string]timeUnit{
	"d": unitDay, "day": unitDay, "days": unitDay,
	"h": unitHour, "hour": unitHour, "hours": unitHour,
	"m": unitMinute, "min": unitMinute, "mins": unitMinute, "minute": unitMinute, "minutes": unitMinute,
	"s": unitSecond, "sec": unitSecond, "secs": unitSecond, "second": unitSecond, "seconds": unitSecond,
	"ms": unitMilli, "milli": unitMilli, "millis": unitMilli, "millisecond": unitMilli, "milliseconds": unitMilli,
}

var (
	digitsOnly   = regexp.MustCompile(`^\d+$`)
	patternToken = regexp.MustCompile(`^(\d+)\s*([a-zA-Z]+)\s*`)
)

// ParseTimePattern 解析时间模式.
//
// 纯数字按毫秒处理；否则为按单位从大到小排列的 "<数值><单位>" 序列，
// 例如 "1h3m5s"、"2 minutes 30 seconds"、"1500ms".
// 出现更大单位时，分钟与秒不得超过 59，毫秒不得超过 999.
func ParseTimePattern(s string) (time.Duration, error) {
	input := strings.TrimSpace(s)
	if input == "" {
		return 0, &TimePatternError{Input: s, Value: -1, Reason: "为空"}
	}

	if digitsOnly.MatchString(input) {
		ms, err := strconv.ParseInt(input, 10, 64)
		if err != nil {
			return 0, &TimePatternError{Input: s, Value: -1, Reason: err.Error()}
		}
		return scale(s, unitMilli, ms, 0)
	}

	var (
		total    time.Duration
		lastRank = -1
		rest     = input
	)
	for rest != "" {
		m := patternToken.FindStringSubmatch(rest)
		if m == nil {
			return 0, &TimePatternError{Input: s, Value: -1, Reason: fmt.Sprintf("无法识别 %q", rest)}
		}
		rest = rest[len(m[0]):]

		unit, ok := unitAliases[strings.ToLower(m[2])]
		if !ok {
			return 0, &TimePatternError{Input: s, Value: -1, Reason: "未知的时间单位 " + m[2]}
		}
		if unit.rank <= lastRank {
			return 0, &TimePatternError{Input: s, Value: -1, Reason: "时间单位必须从大到小且不重复"}
		}

		value, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, &TimePatternError{Input: s, Value: -1, Reason: err.Error()}
		}
		if lastRank >= 0 && unit.limit > 0 && value > unit.limit {
			return 0, &TimePatternError{
				Input:  s,
				Unit:   unit.name,
				Value:  value,
				Reason: fmt.Sprintf("超出范围 [0, %d]", unit.limit),
			}
		}

		lastRank = unit.rank
		if total, err = scale(s, unit, value, total); err != nil {
			return 0, err
		}
	}

	return total, nil
}

// scale 返回 base + value*unit.size，超出 time.Duration 范围时返回 *TimePatternError.
func scale(input string, unit timeUnit, value int64, base time.Duration) (time.Duration, error) {
	size := int64(unit.size)
	if value > (math.MaxInt64-int64(base))/size {
		return 0, &TimePatternError{
			Input:  input,
			Unit:   unit.name,
			Value:  value,
			Reason: "超出可表示的时长",
		}
	}
	return base + time.Duration(value*size), nil
}

// TimePatternMillis 解析时间模式并返回毫秒数.
func TimePatternMillis(s string) (int64, error) {
	d, err := ParseTimePattern(s)
	if err != nil {
		return 0, err
	}
	return d.Milliseconds(), nil
}
