package rebalance

import "fmt"

// RoundState 是指数再平衡轮次的状态。
type RoundState string

const (
	StateUninitialized RoundState = "UNINITIALIZED"
	StateIdle          RoundState = "IDLE"        // 所有成分已达标
	StateRebalancing   RoundState = "REBALANCING" // 存在未达标成分
)

// StateTransition 状态转换
type StateTransition struct {
	From RoundState
	To   RoundState
}

var legalTransitions = map[StateTransition]bool{
	{StateUninitialized, StateIdle}:        true, // Initialize
	{StateIdle, StateUninitialized}:        true, // RemoveIndex
	{StateRebalancing, StateUninitialized}: true,
	// StartRebalance 或 RaiseAssetTargets
	{StateIdle, StateRebalancing}: true,
	// 部分成交，或新一轮覆盖尚未完成的轮次
	{StateRebalancing, StateRebalancing}: true,
	// 最后一笔交易让所有成分达标；没有显式的终止调用
	{StateRebalancing, StateIdle}: true,
	// 新目标与当前单位一致
	{StateIdle, StateIdle}: true,
}

// ValidateTransition 验证状态转换是否合法
func ValidateTransition(from, to RoundState) error {
	if !legalTransitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal round transition: %s -> %s", from, to)
	}
	return nil
}

// AllowedTransitions 返回当前状态所有合法的目标状态
func AllowedTransitions(current RoundState) []RoundState {
	allowed := make([]RoundState, 0, 3)
	for _, to := range []RoundState{StateUninitialized, StateIdle, StateRebalancing} {
		if legalTransitions[StateTransition{From: current, To: to}] {
			allowed = append(allowed, to)
		}
	}
	return allowed
}

// Description 获取状态描述
func (s RoundState) Description() string {
	switch s {
	case StateUninitialized:
		return "未注册"
	case StateIdle:
		return "空闲，目标已达成"
	case StateRebalancing:
		return "再平衡进行中"
	default:
		return "未知状态"
	}
}
