package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateTrading()...)
	errors = append(errors, c.validateCollector()...)
	errors = append(errors, c.validateStrategy()...)
	errors = append(errors, c.validateRisk()...)
	errors = append(errors, c.validateExecution()...)

	if c.App.Environment == "production" {
		errors = append(errors, ValidateProductionSecrets(c)...)
	}

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	switch c.App.Environment {
	case "development", "staging", "production":
	default:
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: fmt.Sprintf("must be development, staging or production (got %q)", c.App.Environment),
		})
	}

	switch strings.ToLower(c.App.LogLevel) {
	case "trace", "debug", "info", "warn", "error":
	default:
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: fmt.Sprintf("unknown log level %q", c.App.LogLevel),
		})
	}

	return errors
}

func (c *Config) validateTrading() ValidationErrors {
	var errors ValidationErrors

	if c.Trading.Mode != "paper" && c.Trading.Mode != "live" {
		errors = append(errors, ValidationError{
			Field:   "trading.mode",
			Message: fmt.Sprintf("must be paper or live (got %q)", c.Trading.Mode),
		})
	}
	if len(c.Trading.Symbols) == 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.symbols",
			Message: "at least one symbol is required",
		})
	}
	if c.Trading.InitialCapital <= 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.initial_capital",
			Message: "must be positive",
		})
	}

	if c.Trading.Mode == "live" {
		ex, ok := c.Exchanges[c.Trading.Exchange]
		if !ok || ex.APIKey == "" || ex.SecretKey == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("exchanges.%s", c.Trading.Exchange),
				Message: "live trading requires api_key and secret_key",
			})
		}
	}

	return errors
}

func (c *Config) validateCollector() ValidationErrors {
	var errors ValidationErrors

	if c.Collector.Mode != "streaming" && c.Collector.Mode != "polling" {
		errors = append(errors, ValidationError{
			Field:   "collector.mode",
			Message: fmt.Sprintf("must be streaming or polling (got %q)", c.Collector.Mode),
		})
	}
	if c.Collector.IntervalSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "collector.interval_seconds",
			Message: "must be positive",
		})
	}
	if c.Collector.WSSilenceThreshold <= 0 {
		errors = append(errors, ValidationError{
			Field:   "collector.ws_silence_threshold",
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateStrategy() ValidationErrors {
	var errors ValidationErrors

	switch c.Strategy.FusionStrategy {
	case "bayesian", "consensus", "time_decay", "hybrid":
	default:
		errors = append(errors, ValidationError{
			Field:   "strategy.fusion_strategy",
			Message: fmt.Sprintf("must be bayesian, consensus, time_decay or hybrid (got %q)", c.Strategy.FusionStrategy),
		})
	}
	if c.Strategy.MinSignals < 1 {
		errors = append(errors, ValidationError{
			Field:   "strategy.min_signals",
			Message: "must be at least 1",
		})
	}
	if c.Strategy.MinConfidence < 0 || c.Strategy.MinConfidence > 1 {
		errors = append(errors, ValidationError{
			Field:   "strategy.min_confidence",
			Message: "must be within [0,1]",
		})
	}
	if c.Strategy.MinAgreement < 0 || c.Strategy.MinAgreement > 1 {
		errors = append(errors, ValidationError{
			Field:   "strategy.min_agreement",
			Message: "must be within [0,1]",
		})
	}

	sum := c.Strategy.BayesianWeight + c.Strategy.ConsensusWeight + c.Strategy.TimeDecayWeight
	if sum <= 0 {
		errors = append(errors, ValidationError{
			Field:   "strategy.*_weight",
			Message: "hybrid weights must sum to a positive value",
		})
	}

	return errors
}

func (c *Config) validateRisk() ValidationErrors {
	var errors ValidationErrors

	if c.Risk.MaxPortfolioRisk <= 0 || c.Risk.MaxPortfolioRisk > 1 {
		errors = append(errors, ValidationError{
			Field:   "risk.max_portfolio_risk",
			Message: "must be within (0,1]",
		})
	}
	if c.Risk.MaxRiskPerTrade <= 0 || c.Risk.MaxRiskPerTrade > c.Risk.MaxPortfolioRisk {
		errors = append(errors, ValidationError{
			Field:   "risk.max_risk_per_trade",
			Message: "must be positive and not exceed max_portfolio_risk",
		})
	}
	if c.Risk.MinRR < 1 {
		errors = append(errors, ValidationError{
			Field:   "risk.min_rr",
			Message: "must be at least 1",
		})
	}
	switch c.Risk.SizingMethod {
	case "kelly", "fixed", "volatility", "hybrid":
	default:
		errors = append(errors, ValidationError{
			Field:   "risk.sizing_method",
			Message: fmt.Sprintf("must be kelly, fixed, volatility or hybrid (got %q)", c.Risk.SizingMethod),
		})
	}
	switch c.Risk.StopMethod {
	case "atr", "percentage", "volatility", "support_resistance", "trailing":
	default:
		errors = append(errors, ValidationError{
			Field:   "risk.stop_method",
			Message: fmt.Sprintf("unknown stop method %q", c.Risk.StopMethod),
		})
	}
	if c.Risk.ATRMultiplier <= 0 {
		errors = append(errors, ValidationError{
			Field:   "risk.atr_k",
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateExecution() ValidationErrors {
	var errors ValidationErrors

	if c.Execution.MonitoringInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "execution.monitoring_interval",
			Message: "must be positive",
		})
	}
	if c.Execution.OrderTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "execution.order_timeout",
			Message: "must be positive",
		})
	}

	return errors
}
