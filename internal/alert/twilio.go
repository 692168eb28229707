package alert

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// 中文说明：
// Twilio 通知器：对账不一致、放弃成交、资金上限触发时，把关键信息以短信推送给操作员。

type Twilio struct {
	AccountSID string
	AuthToken  string
	From       string
	To         []string
	Client     *http.Client
}

func NewTwilio(accountSID, authToken, from string, to []string) *Twilio {
	return &Twilio{
		AccountSID: accountSID,
		AuthToken:  authToken,
		From:       from,
		To:         to,
		Client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// SendText 给每个收件号码发送短信（每条最多重试 3 次）
func (t *Twilio) SendText(text string) error {
	if t.AccountSID == "" || t.AuthToken == "" || t.From == "" || len(t.To) == 0 {
		return fmt.Errorf("Twilio 配置不完整")
	}
	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", t.AccountSID)

	var lastErr error
	for _, to := range t.To {
		form := url.Values{}
		form.Set("Body", text)
		form.Set("From", t.From)
		form.Set("To", to)
		if err := t.post(endpoint, form); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (t *Twilio) post(endpoint string, form url.Values) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest("POST", endpoint, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(t.AccountSID, t.AuthToken)
		resp, err := t.Client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return nil
		}
		lastErr = fmt.Errorf("twilio status=%d", resp.StatusCode)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	return lastErr
}
