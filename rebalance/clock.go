package rebalance

import "time"

// Clock 抽象时间便于测试冷却期。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SystemClock 使用本地系统时间。
var SystemClock Clock = realClock{}

// ClockFunc 把函数适配为 Clock。
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
