package strategy

import (
	"fmt"
	"strings"
	"time"
)

// Window 是 UTC 日内交易时段，按分钟计，首尾都包含。Start > End 表示跨零点。
type Window struct {
	Start int
	End   int
}

// FullDay 覆盖 00:00-23:59。
var FullDay = Window{Start: 0, End: 23*60 + 59}

// ParseWindow 解析 "15:04" 格式的起止时间；空值按全天处理。
func ParseWindow(start, end string) (Window, error) {
	w := FullDay
	if s := strings.TrimSpace(start); s != "" {
		m, err := parseClock(s)
		if err != nil {
			return Window{}, fmt.Errorf("hours_start: %w", err)
		}
		w.Start = m
	}
	if e := strings.TrimSpace(end); e != "" {
		m, err := parseClock(e)
		if err != nil {
			return Window{}, fmt.Errorf("hours_end: %w", err)
		}
		w.End = m
	}
	return w, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Contains 判断 at 的 UTC 时刻是否在时段内。
func (w Window) Contains(at time.Time) bool {
	utc := at.UTC()
	m := utc.Hour()*60 + utc.Minute()
	if w.Start <= w.End {
		return m >= w.Start && m <= w.End
	}
	return m >= w.Start || m <= w.End
}
