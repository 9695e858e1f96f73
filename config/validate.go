package config

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if _, err := Address(cfg.Staging); err != nil {
		return fmt.Errorf("staging: %w", err)
	}
	if err := validateIndex(cfg.Index); err != nil {
		return err
	}

	venues := make(map[string]VenueConfig, len(cfg.Venues))
	for _, v := range cfg.Venues {
		if v.Name == "" {
			return errors.New("venue name is required")
		}
		if _, dup := venues[v.Name]; dup {
			return fmt.Errorf("venue %s declared twice", v.Name)
		}
		venues[v.Name] = v
	}
	for _, v := range cfg.Venues {
		if err := validateVenue(v, venues); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(cfg.Components))
	for _, c := range cfg.Components {
		addr, err := Address(c.Address)
		if err != nil {
			return fmt.Errorf("component: %w", err)
		}
		key := addr.Hex()
		if seen[key] {
			return fmt.Errorf("component %s declared twice", key)
		}
		seen[key] = true
		if _, err := Amount(c.Target); err != nil {
			return fmt.Errorf("component %s target: %w", key, err)
		}
		if _, err := Amount(c.MaxSize); err != nil {
			return fmt.Errorf("component %s maxSize: %w", key, err)
		}
		if c.CoolOff < 0 {
			return fmt.Errorf("component %s coolOff must be >= 0", key)
		}
		if c.Exchange != "" {
			if _, ok := venues[c.Exchange]; !ok {
				return fmt.Errorf("component %s exchange %s is not a configured venue", key, c.Exchange)
			}
		}
		if _, err := HexData(c.ExchangeData); err != nil {
			return fmt.Errorf("component %s: %w", key, err)
		}
	}

	for _, t := range cfg.Traders {
		if _, err := Address(t); err != nil {
			return fmt.Errorf("trader: %w", err)
		}
	}
	if cfg.RaiseTargetPercentage != "" {
		if _, err := Amount(cfg.RaiseTargetPercentage); err != nil {
			return fmt.Errorf("raiseTargetPercentage: %w", err)
		}
	}

	if cfg.Keeper.Enabled {
		if _, err := cron.ParseStandard(cfg.Keeper.Schedule); err != nil {
			return fmt.Errorf("keeper.schedule: %w", err)
		}
		if cfg.Keeper.SlippageBps < 0 || cfg.Keeper.SlippageBps >= 10_000 {
			return fmt.Errorf("keeper.slippageBps must be in [0, 10000), got %d", cfg.Keeper.SlippageBps)
		}
		if _, err := Address(cfg.Keeper.Trader); err != nil {
			return fmt.Errorf("keeper.trader: %w (or REBALANCER_TRADER)", err)
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return errors.New("metrics.addr is required when metrics are enabled")
	}
	if cfg.Feed.Enabled && cfg.Feed.Addr == "" {
		return errors.New("feed.addr is required when the feed is enabled")
	}
	switch cfg.Recorder.Driver {
	case "noop", "":
	case "sqlite":
		if cfg.Recorder.Path == "" {
			return errors.New("recorder.path is required for sqlite")
		}
	default:
		return fmt.Errorf("unknown recorder driver %q", cfg.Recorder.Driver)
	}
	return nil
}

func validateIndex(ic IndexConfig) error {
	if _, err := Address(ic.Address); err != nil {
		return fmt.Errorf("index.address: %w", err)
	}
	if _, err := Address(ic.Manager); err != nil {
		return fmt.Errorf("index.manager: %w (or REBALANCER_MANAGER)", err)
	}
	supply, err := Amount(ic.TotalSupply)
	if err != nil {
		return fmt.Errorf("index.totalSupply: %w", err)
	}
	if supply.Sign() <= 0 {
		return errors.New("index.totalSupply must be > 0")
	}
	if m, err := Amount(ic.PositionMultiplier); err != nil || m.Sign() <= 0 {
		return fmt.Errorf("index.positionMultiplier must be > 0, got %q", ic.PositionMultiplier)
	}
	if len(ic.Positions) == 0 {
		return errors.New("index.positions is required")
	}
	for _, p := range ic.Positions {
		if _, err := Address(p.Component); err != nil {
			return fmt.Errorf("index.positions: %w", err)
		}
		u, err := Amount(p.Unit)
		if err != nil {
			return fmt.Errorf("index.positions %s: %w", p.Component, err)
		}
		if u.Sign() <= 0 {
			return fmt.Errorf("index.positions %s unit must be > 0", p.Component)
		}
	}
	return nil
}

func validateVenue(v VenueConfig, venues map[string]VenueConfig) error {
	if _, err := Address(v.Router); err != nil {
		return fmt.Errorf("venue %s router: %w", v.Name, err)
	}
	switch v.Kind {
	case VenueUniswapV2:
		if _, err := Address(v.Factory); err != nil {
			return fmt.Errorf("venue %s factory: %w", v.Name, err)
		}
		for _, p := range v.Pools {
			if _, err := Address(p.TokenA); err != nil {
				return fmt.Errorf("venue %s pool: %w", v.Name, err)
			}
			if _, err := Address(p.TokenB); err != nil {
				return fmt.Errorf("venue %s pool: %w", v.Name, err)
			}
			a, errA := Amount(p.ReserveA)
			b, errB := Amount(p.ReserveB)
			if errA != nil || errB != nil || a.Sign() <= 0 || b.Sign() <= 0 {
				return fmt.Errorf("venue %s pool reserves must be > 0", v.Name)
			}
		}
	case VenueSplitter:
		if len(v.Families) != 2 {
			return fmt.Errorf("venue %s splitter needs exactly 2 families, got %d", v.Name, len(v.Families))
		}
		for _, f := range v.Families {
			fam, ok := venues[f]
			if !ok || fam.Kind != VenueUniswapV2 {
				return fmt.Errorf("venue %s family %s must be a %s venue", v.Name, f, VenueUniswapV2)
			}
		}
	case VenueUniswapV3, VenueBalancerV2, VenueZeroEx:
	default:
		return fmt.Errorf("venue %s has unknown kind %q", v.Name, v.Kind)
	}
	return nil
}
