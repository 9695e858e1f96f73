package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNoContract    = errors.New("no contract at target")
	ErrContractTaken = errors.New("contract address already registered")
)

// Env 是外部合约执行时可见的调用上下文。
type Env struct {
	Caller    common.Address
	Value     *big.Int
	Timestamp time.Time
	State     *State
}

// Contract 是 Host 上可被调用的外部场所（路由、拆单器等）。
// 实现必须只通过 env.State 修改余额，返回错误即视为整笔调用回滚。
type Contract interface {
	Call(ctx context.Context, env Env, data []byte) ([]byte, error)
}

// Call 描述一次由指数发起的外部调用。
type Call struct {
	Target common.Address
	Value  *big.Int
	Data   []byte

	// 调用前授予 Spender 的 SendToken 额度，调用结束后清零。
	Spender   common.Address
	Allowance *big.Int

	SendToken    common.Address
	ReceiveToken common.Address
}

// Fill 是外部调用结束后由余额差推导的实际成交量。
type Fill struct {
	Sent       *big.Int
	Received   *big.Int
	ReturnData []byte
}

// Host 串行执行所有外部调用，并持有全部托管余额。
// 单一互斥锁对应宿主账本"一次只处理一笔交易"的语义。
type Host struct {
	mu        sync.Mutex
	balances  map[balanceKey]*big.Int
	contracts map[common.Address]Contract
	now       func() time.Time
}

// NewHost 创建 Host；now 为 nil 时使用 time.Now。
func NewHost(now func() time.Time) *Host {
	if now == nil {
		now = time.Now
	}
	return &Host{
		balances:  make(map[balanceKey]*big.Int),
		contracts: make(map[common.Address]Contract),
		now:       now,
	}
}

// Deploy 在 addr 上注册合约。
func (h *Host) Deploy(addr common.Address, c Contract) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.contracts[addr]; ok {
		return fmt.Errorf("%w: %s", ErrContractTaken, addr.Hex())
	}
	h.contracts[addr] = c
	return nil
}

// Credit 直接增加余额，用于初始化托管资产与流动性池。
func (h *Host) Credit(holder, asset common.Address, amount *big.Int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := balanceKey{holder, asset}
	cur, ok := h.balances[k]
	if !ok {
		cur = new(big.Int)
	}
	h.balances[k] = new(big.Int).Add(cur, amount)
}

// BalanceOf 返回已提交余额。
func (h *Host) BalanceOf(holder, asset common.Address) *big.Int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.balances[balanceKey{holder, asset}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Now 返回宿主时间。
func (h *Host) Now() time.Time { return h.now() }

// Execute 以 caller 身份执行 call：先授权，再调用合约，最后由 check 校验成交结果。
// 只有合约调用与 check 均成功时状态才会提交，否则不留下任何余额变化。
func (h *Host) Execute(ctx context.Context, caller common.Address, call Call, check func(Fill) error) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	contract, ok := h.contracts[call.Target]
	if !ok {
		return Fill{}, fmt.Errorf("%w: %s", ErrNoContract, call.Target.Hex())
	}

	state := newState(h.balances)
	if call.Allowance != nil && call.Allowance.Sign() > 0 {
		state.Approve(call.SendToken, caller, call.Spender, call.Allowance)
	}
	preSend := state.BalanceOf(caller, call.SendToken)
	preReceive := state.BalanceOf(caller, call.ReceiveToken)

	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	ret, err := contract.Call(ctx, Env{Caller: caller, Value: value, Timestamp: h.now(), State: state}, call.Data)
	if err != nil {
		return Fill{}, err
	}

	postSend := state.BalanceOf(caller, call.SendToken)
	postReceive := state.BalanceOf(caller, call.ReceiveToken)
	fill := Fill{
		Sent:       new(big.Int).Sub(preSend, postSend),
		Received:   new(big.Int).Sub(postReceive, preReceive),
		ReturnData: ret,
	}
	if fill.Sent.Sign() < 0 || fill.Received.Sign() < 0 {
		return Fill{}, fmt.Errorf("venue call moved balances the wrong way: sent=%s received=%s", fill.Sent, fill.Received)
	}
	if check != nil {
		if err := check(fill); err != nil {
			return Fill{}, err
		}
	}
	state.commit()
	return fill, nil
}

// Snapshot 返回一个只读视图，用于在锁外做报价。
func (h *Host) Snapshot() BalanceReader {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make(map[balanceKey]*big.Int, len(h.balances))
	for k, v := range h.balances {
		cp[k] = new(big.Int).Set(v)
	}
	return newState(cp)
}
