package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"midas/internal/alert"
	"midas/internal/config"
	"midas/internal/logger"
	"midas/internal/mktcal"
	"midas/internal/order"
	"midas/internal/schedule"
)

const defaultBaseURL = "https://api.tdameritrade.com/v1"

// TDA talks to the TD Ameritrade REST API for both accounts. All order-path
// methods run on the scheduler goroutine, so the traded-capital ledger needs
// no locking.
type TDA struct {
	accounts   [2]config.AccountConfig
	tokens     [2]*tokenState
	httpClient *http.Client
	baseURL    string

	sched   *schedule.Scheduler
	alerter *alert.Alerter
	// stop is the process-wide safety stop, pulled when the account-level
	// spent-capital cap is breached.
	stop func()

	traded [2]float64
}

func NewTDA(accounts []config.AccountConfig, sched *schedule.Scheduler, alerter *alert.Alerter, stop func()) (*TDA, error) {
	if len(accounts) != 2 {
		return nil, fmt.Errorf("broker requires exactly two accounts, got %d", len(accounts))
	}
	c := &TDA{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		sched:      sched,
		alerter:    alerter,
		stop:       stop,
	}
	copy(c.accounts[:], accounts)
	for i, acct := range accounts {
		tok, err := loadTokenState(acct.RefreshTokenPath)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		c.tokens[i] = tok
	}
	return c, nil
}

// SetBaseURL and SetHTTPClient exist for testing.
func (c *TDA) SetBaseURL(u string)           { c.baseURL = u }
func (c *TDA) SetHTTPClient(cl *http.Client) { c.httpClient = cl }

func (c *TDA) ordersURL(account int) string {
	return fmt.Sprintf("%s/accounts/%s/orders", c.baseURL, c.accounts[account].AccountNumber)
}

// PlaceOrder transmits a single order. The rolling traded-capital cap is
// charged before transmission and released by a scheduled credit once the
// window passes.
func (c *TDA) PlaceOrder(ctx context.Context, o *order.Order, account int) (int64, error) {
	if err := c.ensureToken(ctx, account); err != nil {
		return 0, err
	}

	tradeCapital := openCapital(o)
	c.traded[account] += tradeCapital
	if c.traded[account] >= c.accounts[account].CapitalLimit.Capital {
		return 0, ErrCapitalLimit
	}
	if tradeCapital > 0 {
		window := c.accounts[account].CapitalLimit.Window() + time.Minute
		c.sched.Add(mktcal.Now().Add(window), "capital release", func() {
			c.traded[account] -= tradeCapital
		})
	}

	body, err := json.Marshal(o.WireJSON())
	if err != nil {
		return 0, err
	}
	headers := c.authHeader(account)
	headers["Content-Type"] = "application/json"
	resp, err := c.send(ctx, "POST", c.ordersURL(account), true, body, headers)
	if err != nil {
		return 0, err
	}

	id, err := orderIDFromLocation(resp.headers.Get("Location"))
	if err != nil {
		logger.Errorf("broker: order %s not accepted (status=%d): %v", o, resp.status, err)
		o.Quantity = 0
		return 0, ErrOrderRejected
	}
	o.BrokerID = id
	logger.Infof("broker: placed %s id=%d account=%d", o, id, account)
	return id, nil
}

// PlaceOrders transmits a batch, re-verifying the account-level spent-capital
// cap every $200 of open capital, then resolves the broker ids of any
// flip-split children from the order book.
func (c *TDA) PlaceOrders(ctx context.Context, orders []*order.Order, account int) error {
	if err := c.checkSpentCapital(ctx, account); err != nil {
		return err
	}

	batchCapital := 0.0
	for _, o := range orders {
		oc := openCapital(o)
		if batchCapital+oc >= 200 {
			if err := c.checkSpentCapital(ctx, account); err != nil {
				return err
			}
			batchCapital = 0
		} else {
			batchCapital += oc
		}

		if _, err := c.PlaceOrder(ctx, o, account); err != nil {
			if err == ErrCapitalLimit {
				c.alerter.Alert(fmt.Sprintf("Trade capital limit breached on account %d!", account))
				return err
			}
			if err == ErrOrderRejected {
				c.alerter.Alert(fmt.Sprintf("Order rejected on account %d: %s", account, o))
				continue
			}
			return err
		}
	}

	return c.assignChildIDs(ctx, orders, account)
}

func (c *TDA) assignChildIDs(ctx context.Context, orders []*order.Order, account int) error {
	needsChild := false
	for _, o := range orders {
		if o.Child != nil && o.BrokerID != 0 {
			needsChild = true
			break
		}
	}
	if !needsChild {
		return nil
	}
	reports, err := c.GetOrders(ctx, account, mktcal.Today())
	if err != nil {
		return err
	}
	for _, o := range orders {
		if o.Child == nil || o.BrokerID == 0 {
			continue
		}
		for _, r := range reports {
			if r.OrderID == o.BrokerID && r.ChildOrderID != 0 {
				o.Child.BrokerID = r.ChildOrderID
				break
			}
		}
	}
	return nil
}

// checkSpentCapital is the account-level safety stop: breach terminates the
// process, not just the cycle.
func (c *TDA) checkSpentCapital(ctx context.Context, account int) error {
	snap, err := c.Account(ctx, account)
	if err != nil {
		return err
	}
	spent := snap.AvailableFundsNonMarginable - snap.BuyingPowerNonMarginable
	if spent > c.accounts[account].CapitalLimit.Capital {
		c.alerter.Alert(fmt.Sprintf("Trade capital limit breached on account %d! spent=%.2f", account, spent))
		c.stop()
		return fmt.Errorf("spent capital %.2f over limit on account %d", spent, account)
	}
	return nil
}

func (c *TDA) CancelOrder(ctx context.Context, brokerID int64, account int) error {
	if err := c.ensureToken(ctx, account); err != nil {
		return err
	}
	url := fmt.Sprintf("%s/%d", c.ordersURL(account), brokerID)
	_, err := c.send(ctx, "DELETE", url, true, nil, c.authHeader(account))
	return err
}

func (c *TDA) GetOrder(ctx context.Context, brokerID int64, account int) (OrderReport, error) {
	if err := c.ensureToken(ctx, account); err != nil {
		return OrderReport{}, err
	}
	url := fmt.Sprintf("%s/%d", c.ordersURL(account), brokerID)
	resp, err := c.send(ctx, "GET", url, false, nil, c.authHeader(account))
	if err != nil {
		return OrderReport{}, err
	}
	parsed := gjson.ParseBytes(resp.body)
	if !parsed.Get("orderId").Exists() {
		return OrderReport{}, ErrOrderNotFound
	}
	return parseReport(parsed), nil
}

func (c *TDA) GetOrders(ctx context.Context, account int, from time.Time) ([]OrderReport, error) {
	if err := c.ensureToken(ctx, account); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("fromEnteredTime", from.Format("2006-01-02"))
	params.Set("toEnteredTime", mktcal.Today().Format("2006-01-02"))
	resp, err := c.send(ctx, "GET", c.ordersURL(account)+"/?"+params.Encode(), false, nil, c.authHeader(account))
	if err != nil {
		return nil, err
	}
	var reports []OrderReport
	gjson.ParseBytes(resp.body).ForEach(func(_, item gjson.Result) bool {
		reports = append(reports, parseReport(item))
		return true
	})
	return reports, nil
}

func (c *TDA) Account(ctx context.Context, account int) (AccountSnapshot, error) {
	if err := c.ensureToken(ctx, account); err != nil {
		return AccountSnapshot{}, err
	}
	url := fmt.Sprintf("%s/accounts/%s?fields=positions", c.baseURL, c.accounts[account].AccountNumber)
	resp, err := c.send(ctx, "GET", url, false, nil, c.authHeader(account))
	if err != nil {
		return AccountSnapshot{}, err
	}
	sec := gjson.ParseBytes(resp.body).Get("securitiesAccount")
	balances := sec.Get("currentBalances")
	return AccountSnapshot{
		AccountID:                   sec.Get("accountId").String(),
		BuyingPower:                 balances.Get("buyingPower").Float(),
		BuyingPowerNonMarginable:    balances.Get("buyingPowerNonMarginableTrade").Float(),
		AvailableFundsNonMarginable: balances.Get("availableFundsNonMarginableTrade").Float(),
		MaintenanceRequirement:      balances.Get("maintenanceRequirement").Float(),
		DayTradesLeft:               3 - int(sec.Get("roundTrips").Int()),
	}, nil
}

func (c *TDA) Positions(ctx context.Context, account int) (map[string]int, error) {
	if err := c.ensureToken(ctx, account); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/accounts/%s?fields=positions", c.baseURL, c.accounts[account].AccountNumber)
	resp, err := c.send(ctx, "GET", url, false, nil, c.authHeader(account))
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	gjson.ParseBytes(resp.body).Get("securitiesAccount.positions").ForEach(func(_, p gjson.Result) bool {
		symbol := p.Get("instrument.symbol").String()
		if symbol == "" {
			return true
		}
		qty := int(p.Get("longQuantity").Float()) - int(p.Get("shortQuantity").Float())
		out[symbol] = qty
		return true
	})
	return out, nil
}

// Quotes fetches last-trade prices for a batch of symbols. Market data is
// account-agnostic, so the primary account's token is used.
func (c *TDA) Quotes(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}
	if err := c.ensureToken(ctx, 0); err != nil {
		return nil, err
	}
	u := c.baseURL + "/marketdata/quotes?symbol=" + url.QueryEscape(strings.Join(symbols, ","))
	resp, err := c.send(ctx, "GET", u, false, nil, c.authHeader(0))
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(symbols))
	gjson.ParseBytes(resp.body).ForEach(func(key, quote gjson.Result) bool {
		if price := quote.Get("lastPrice").Float(); price > 0 {
			out[key.String()] = price
		}
		return true
	})
	return out, nil
}

func parseReport(item gjson.Result) OrderReport {
	return OrderReport{
		OrderID:           item.Get("orderId").Int(),
		ChildOrderID:      item.Get("childOrderStrategies.0.orderId").Int(),
		Status:            item.Get("status").String(),
		FilledQuantity:    int(item.Get("filledQuantity").Float()),
		RemainingQuantity: int(item.Get("remainingQuantity").Float()),
		ExecutionPrice:    item.Get("orderActivityCollection.0.executionLegs.0.price").Float(),
	}
}

func orderIDFromLocation(location string) (int64, error) {
	idx := strings.LastIndex(location, "orders/")
	if idx < 0 {
		return 0, fmt.Errorf("no order id in location header %q", location)
	}
	id, err := strconv.ParseInt(location[idx+len("orders/"):], 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("bad order id in location header %q", location)
	}
	return id, nil
}

// openCapital is the capital an order would commit: only OPEN legs count,
// including a flip-split child's opening leg.
func openCapital(o *order.Order) float64 {
	capital := 0.0
	if o.Effect == order.Open {
		capital += float64(o.Quantity) * o.CurrentPrice
	}
	if o.Child != nil && o.Child.Effect == order.Open {
		capital += float64(o.Child.Quantity) * o.CurrentPrice
	}
	if capital < 0 {
		capital = -capital
	}
	return capital
}
