package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPAddr          string
	DBDSN             string
	InternalToken     string
	AdminJWTSecret    string
	AdminUsername     string
	AdminPasswordHash string
	AdminTokenTTL     time.Duration
	WebSocketOrigin   string
	LogLevel          string
	ContractsFile     string
	ScanInterval      time.Duration
	ScanWorkers       int
	Risk              RiskDefaults
}

// RiskDefaults are applied to accounts that do not override them.
type RiskDefaults struct {
	MarginCallLevel  decimal.Decimal
	StopOutLevel     decimal.Decimal
	DefaultLeverage  int
	MaxLeverage      int
	SpreadPips       decimal.Decimal
	CommissionPerLot decimal.Decimal
	CommissionRate   decimal.Decimal
}

const (
	minScanInterval = 10 * time.Millisecond
	maxScanInterval = 10 * time.Second
)

func DefaultRisk() RiskDefaults {
	return RiskDefaults{
		MarginCallLevel:  decimal.NewFromInt(50),
		StopOutLevel:     decimal.NewFromInt(20),
		DefaultLeverage:  100,
		MaxLeverage:      1000,
		SpreadPips:       decimal.Zero,
		CommissionPerLot: decimal.Zero,
		CommissionRate:   decimal.Zero,
	}
}

func Load() (Config, error) {
	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.InternalToken = os.Getenv("INTERNAL_API_TOKEN")
	if c.InternalToken == "" {
		missing = append(missing, "INTERNAL_API_TOKEN")
	}
	c.AdminJWTSecret = os.Getenv("ADMIN_JWT_SECRET")
	if c.AdminJWTSecret == "" {
		missing = append(missing, "ADMIN_JWT_SECRET")
	}
	c.DBDSN = os.Getenv("DB_DSN")
	c.ContractsFile = strings.TrimSpace(os.Getenv("CONTRACTS_FILE"))
	c.AdminUsername = strings.TrimSpace(os.Getenv("ADMIN_USERNAME"))
	if c.AdminUsername == "" {
		c.AdminUsername = "admin"
	}
	c.AdminPasswordHash = strings.TrimSpace(os.Getenv("ADMIN_PASSWORD_HASH"))
	c.WebSocketOrigin = os.Getenv("WS_ORIGIN")
	if c.WebSocketOrigin == "" {
		c.WebSocketOrigin = "*"
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	var err error
	if c.AdminTokenTTL, err = durationEnv("ADMIN_TOKEN_TTL", 12*time.Hour); err != nil {
		return c, err
	}
	if c.ScanInterval, err = durationEnv("SCAN_INTERVAL", 100*time.Millisecond); err != nil {
		return c, err
	}
	if c.ScanInterval < minScanInterval || c.ScanInterval > maxScanInterval {
		return c, fmt.Errorf("invalid SCAN_INTERVAL: must be between %s and %s", minScanInterval, maxScanInterval)
	}
	if c.ScanWorkers, err = intEnv("SCAN_WORKERS", 8); err != nil {
		return c, err
	}
	if c.ScanWorkers <= 0 {
		return c, errors.New("invalid SCAN_WORKERS: must be > 0")
	}

	c.Risk = DefaultRisk()
	if c.Risk.MarginCallLevel, err = decimalEnv("MARGIN_CALL_LEVEL", c.Risk.MarginCallLevel); err != nil {
		return c, err
	}
	if c.Risk.StopOutLevel, err = decimalEnv("STOP_OUT_LEVEL", c.Risk.StopOutLevel); err != nil {
		return c, err
	}
	if c.Risk.SpreadPips, err = decimalEnv("SPREAD_PIPS", c.Risk.SpreadPips); err != nil {
		return c, err
	}
	if c.Risk.CommissionPerLot, err = decimalEnv("COMMISSION_PER_LOT", c.Risk.CommissionPerLot); err != nil {
		return c, err
	}
	if c.Risk.CommissionRate, err = decimalEnv("COMMISSION_RATE", c.Risk.CommissionRate); err != nil {
		return c, err
	}
	if c.Risk.DefaultLeverage, err = intEnv("DEFAULT_LEVERAGE", c.Risk.DefaultLeverage); err != nil {
		return c, err
	}
	if c.Risk.MaxLeverage, err = intEnv("MAX_LEVERAGE", c.Risk.MaxLeverage); err != nil {
		return c, err
	}
	if err := c.Risk.Validate(); err != nil {
		return c, err
	}

	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}

func (r RiskDefaults) Validate() error {
	if !r.StopOutLevel.IsPositive() || !r.MarginCallLevel.IsPositive() {
		return errors.New("margin call and stop out levels must be > 0")
	}
	if r.StopOutLevel.GreaterThanOrEqual(r.MarginCallLevel) {
		return errors.New("stop out level must be below margin call level")
	}
	if r.DefaultLeverage <= 0 || r.MaxLeverage <= 0 {
		return errors.New("leverage must be > 0")
	}
	if r.DefaultLeverage > r.MaxLeverage {
		return errors.New("default leverage exceeds max leverage")
	}
	if r.SpreadPips.IsNegative() || r.CommissionPerLot.IsNegative() || r.CommissionRate.IsNegative() {
		return errors.New("spread and commission must not be negative")
	}
	return nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func decimalEnv(key string, def decimal.Decimal) (decimal.Decimal, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
