package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if len(c.Accounts) != 2 {
		return fmt.Errorf("accounts requires exactly two entries, got %d", len(c.Accounts))
	}
	for i, acct := range c.Accounts {
		if strings.TrimSpace(acct.AccountNumber) == "" {
			return fmt.Errorf("accounts[%d] missing account_number", i)
		}
		if strings.TrimSpace(acct.ConsumerKey) == "" {
			return fmt.Errorf("accounts[%d] missing consumer_key", i)
		}
		if acct.CapitalLimit.Capital <= 0 {
			return fmt.Errorf("accounts[%d].capital_limit.capital must be > 0", i)
		}
	}
	if err := c.Alerts.validate(); err != nil {
		return err
	}
	if err := c.Allocations.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AlertsConfig) validate() error {
	if !a.TextAlerts {
		return nil
	}
	tw := a.Twilio
	if strings.TrimSpace(tw.AccountSID) == "" || strings.TrimSpace(tw.AuthToken) == "" {
		return fmt.Errorf("alerts.twilio requires account_sid and auth_token when text_alerts is on")
	}
	if strings.TrimSpace(tw.From) == "" || len(tw.To) == 0 {
		return fmt.Errorf("alerts.twilio requires from and at least one to number")
	}
	return nil
}

func (a *AllocationsConfig) validate() error {
	for name, frac := range a.Targets {
		if frac < 0 || frac > 1 {
			return fmt.Errorf("allocations.targets.%s must be within [0, 1], got %v", name, frac)
		}
	}
	return nil
}
