package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"midas/internal/logger"
)

// tokenState holds one account's OAuth tokens. The refresh token is durable
// (loaded from disk, re-persisted on rotation); the access token lives in
// memory and is renewed whenever a call finds it expired.
type tokenState struct {
	refreshToken  string
	refreshExpiry time.Time
	accessToken   string
	accessExpiry  time.Time
	path          string
}

type refreshRecord struct {
	Token      string `json:"token"`
	ExpireTime int64  `json:"expire_time"`
}

func loadTokenState(path string) (*tokenState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading refresh token record: %w", err)
	}
	var rec refreshRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing refresh token record: %w", err)
	}
	if strings.TrimSpace(rec.Token) == "" {
		return nil, fmt.Errorf("refresh token record is empty (%s)", path)
	}
	return &tokenState{
		refreshToken:  rec.Token,
		refreshExpiry: time.Unix(rec.ExpireTime, 0),
		path:          path,
	}, nil
}

func (t *tokenState) persist() error {
	data, err := json.Marshal(refreshRecord{Token: t.refreshToken, ExpireTime: t.refreshExpiry.Unix()})
	if err != nil {
		return err
	}
	return os.WriteFile(t.path, data, 0o600)
}

// ensureToken refreshes the account's access token if it is missing or
// expired. Called before every authenticated request.
func (c *TDA) ensureToken(ctx context.Context, account int) error {
	tok := c.tokens[account]
	if tok == nil {
		return fmt.Errorf("account %d has no token state", account)
	}
	if tok.accessToken != "" && time.Now().Before(tok.accessExpiry.Add(-30*time.Second)) {
		return nil
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", tok.refreshToken)
	form.Set("client_id", c.accounts[account].ConsumerKey)

	resp, err := c.send(ctx, "POST", c.baseURL+"/oauth2/token", false,
		[]byte(form.Encode()),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	if err != nil {
		return fmt.Errorf("refreshing access token: %w", err)
	}

	parsed := gjson.ParseBytes(resp.body)
	access := parsed.Get("access_token").String()
	if access == "" {
		return fmt.Errorf("token endpoint returned no access_token")
	}
	tok.accessToken = access
	tok.accessExpiry = time.Now().Add(time.Duration(parsed.Get("expires_in").Int()) * time.Second)

	// The broker occasionally rotates the refresh token too.
	if rotated := parsed.Get("refresh_token").String(); rotated != "" && rotated != tok.refreshToken {
		tok.refreshToken = rotated
		tok.refreshExpiry = time.Now().Add(time.Duration(parsed.Get("refresh_token_expires_in").Int()) * time.Second)
		if err := tok.persist(); err != nil {
			logger.Warnf("broker: persisting rotated refresh token failed: %v", err)
		}
	}
	return nil
}

func (c *TDA) authHeader(account int) map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.tokens[account].accessToken}
}
