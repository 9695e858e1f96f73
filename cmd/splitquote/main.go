package main

import (
	"flag"
	"fmt"
	"log"
	"math/big"
	"os"

	"github.com/shopspring/decimal"

	"index-rebalancer/amm"
	"index-rebalancer/splitter"
	"index-rebalancer/units"
)

func main() {
	inA := flag.String("inA", "1000", "A 池输入侧储备")
	outA := flag.String("outA", "2500000", "A 池输出侧储备")
	inB := flag.String("inB", "500", "B 池输入侧储备")
	outB := flag.String("outB", "1250000", "B 池输出侧储备")
	amount := flag.String("amount", "10", "交易数量（精确输入时为卖出量，精确输出时为买入量）")
	exactOut := flag.Bool("exactOut", false, "按精确输出报价")
	flag.Parse()

	a := splitter.Reserves{In: mustParse("inA", *inA), Out: mustParse("outA", *outA)}
	b := splitter.Reserves{In: mustParse("inB", *inB), Out: mustParse("outB", *outB)}
	amt := mustParse("amount", *amount)

	if *exactOut {
		toA, toB := splitter.ExactOutputSplit(a, b, amt)
		costA, err := legCost(a, toA)
		if err != nil {
			log.Fatalf("A 池报价失败: %v", err)
		}
		costB, err := legCost(b, toB)
		if err != nil {
			log.Fatalf("B 池报价失败: %v", err)
		}
		total := new(big.Int).Add(costA, costB)
		fmt.Printf("精确输出 %s\n", units.Format(amt))
		fmt.Printf("  A: 买入 %-24s 花费 %s\n", units.Format(toA), units.Format(costA))
		fmt.Printf("  B: 买入 %-24s 花费 %s\n", units.Format(toB), units.Format(costB))
		fmt.Printf("  合计花费 %s  均价 %s  A 占比 %s\n", units.Format(total), price(total, amt), share(toA, amt))
		return
	}

	toA, toB := splitter.ExactInputSplit(a, b, amt)
	gotA, err := legOut(a, toA)
	if err != nil {
		log.Fatalf("A 池报价失败: %v", err)
	}
	gotB, err := legOut(b, toB)
	if err != nil {
		log.Fatalf("B 池报价失败: %v", err)
	}
	total := new(big.Int).Add(gotA, gotB)
	fmt.Printf("精确输入 %s\n", units.Format(amt))
	fmt.Printf("  A: 卖出 %-24s 获得 %s\n", units.Format(toA), units.Format(gotA))
	fmt.Printf("  B: 卖出 %-24s 获得 %s\n", units.Format(toB), units.Format(gotB))
	fmt.Printf("  合计获得 %s  均价 %s  A 占比 %s\n", units.Format(total), price(total, amt), share(toA, amt))
}

func mustParse(name, s string) *big.Int {
	v, err := units.Parse(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "-%s: %v\n", name, err)
		os.Exit(2)
	}
	return v
}

func legOut(r splitter.Reserves, in *big.Int) (*big.Int, error) {
	if in.Sign() == 0 {
		return new(big.Int), nil
	}
	return amm.GetAmountOut(in, r.In, r.Out)
}

func legCost(r splitter.Reserves, out *big.Int) (*big.Int, error) {
	if out.Sign() == 0 {
		return new(big.Int), nil
	}
	return amm.GetAmountIn(out, r.In, r.Out)
}

func price(num, den *big.Int) string {
	if den.Sign() == 0 {
		return "-"
	}
	return decimal.NewFromBigInt(num, 0).DivRound(decimal.NewFromBigInt(den, 0), 8).String()
}

func share(part, whole *big.Int) string {
	if whole.Sign() == 0 {
		return "-"
	}
	pct := decimal.NewFromBigInt(part, 0).Mul(decimal.NewFromInt(100)).DivRound(decimal.NewFromBigInt(whole, 0), 2)
	return pct.String() + "%"
}
