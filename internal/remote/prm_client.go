package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/channelworks/partner-sync-api/pkg/config"
)

const prmSystem = "prm"

// PRMAccount is a partner company record as returned by the PRM API.
type PRMAccount struct {
	ID         string `json:"Id"`
	ParentID   string `json:"ParentId"`
	Name       string `json:"Name"`
	Tier       string `json:"Tier"`
	Status     string `json:"Status"`
	Region     string `json:"Region"`
	OwnerName  string `json:"OwnerName"`
	OwnerEmail string `json:"OwnerEmail"`
	CrossRefID string `json:"CrmId"`
}

// PRMContact is a person record as returned by the PRM API.
type PRMContact struct {
	ID        string `json:"Id"`
	AccountID string `json:"AccountId"`
	Email     string `json:"Email"`
	FirstName string `json:"FirstName"`
	LastName  string `json:"LastName"`
	Title     string `json:"Title"`
	Status    string `json:"Status"`
}

type prmEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		Count   int               `json:"count"`
		Results []json.RawMessage `json:"results"`
	} `json:"data"`
}

// PRMClient walks PRM collections page by page using skip/take parameters.
type PRMClient struct {
	baseURL   string
	accessKey string
	pageSize  int
	pageDelay time.Duration
	maxPages  int

	httpClient *http.Client
	health     *HealthMonitor
	record     CallRecorder
	logger     *zap.Logger
}

// NewPRMClient constructs the client. The health monitor is shared with the
// LMS client so either upstream can trip the circuit.
func NewPRMClient(cfg config.PRMConfig, health *HealthMonitor, record CallRecorder, logger *zap.Logger) *PRMClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 100
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PRMClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		accessKey:  cfg.AccessKey,
		pageSize:   pageSize,
		pageDelay:  cfg.PageDelay,
		maxPages:   maxPages,
		httpClient: &http.Client{Timeout: timeout},
		health:     health,
		record:     record,
		logger:     logger,
	}
}

// Health exposes the shared monitor.
func (c *PRMClient) Health() *HealthMonitor {
	return c.health
}

// FetchAccounts returns partner accounts, scoped to records updated after
// since when a cursor is supplied.
func (c *PRMClient) FetchAccounts(ctx context.Context, since *time.Time) ([]PRMAccount, error) {
	raw, err := c.fetchAll(ctx, "Account", since)
	accounts := make([]PRMAccount, 0, len(raw))
	for _, msg := range raw {
		var account PRMAccount
		if uerr := json.Unmarshal(msg, &account); uerr != nil {
			return accounts, newParseError(prmSystem, "Account", msg, uerr)
		}
		accounts = append(accounts, account)
	}
	return accounts, err
}

// FetchContacts returns contacts, scoped like FetchAccounts.
func (c *PRMClient) FetchContacts(ctx context.Context, since *time.Time) ([]PRMContact, error) {
	raw, err := c.fetchAll(ctx, "Contact", since)
	contacts := make([]PRMContact, 0, len(raw))
	for _, msg := range raw {
		var contact PRMContact
		if uerr := json.Unmarshal(msg, &contact); uerr != nil {
			return contacts, newParseError(prmSystem, "Contact", msg, uerr)
		}
		contacts = append(contacts, contact)
	}
	return contacts, err
}

// fetchAll pages through a PRM collection. A first-page failure fails the
// whole operation; a later-page failure returns the accumulated records with
// the error attached so callers may use partial data.
func (c *PRMClient) fetchAll(ctx context.Context, objectType string, since *time.Time) ([]json.RawMessage, error) {
	var results []json.RawMessage

	for page := 0; page < c.maxPages; page++ {
		if page > 0 && c.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(c.pageDelay):
			}
		}

		batch, total, err := c.fetchPage(ctx, objectType, since, page*c.pageSize)
		if err != nil {
			c.health.RecordFailure()
			if page == 0 {
				return nil, err
			}
			c.logger.Warn("prm page fetch failed, returning partial results",
				zap.String("object_type", objectType),
				zap.Int("page", page),
				zap.Int("accumulated", len(results)),
				zap.Error(err))
			return results, err
		}
		c.health.RecordSuccess()

		results = append(results, batch...)
		if len(batch) < c.pageSize || len(results) >= total {
			return results, nil
		}
	}

	c.logger.Warn("prm pagination hit the page ceiling",
		zap.String("object_type", objectType),
		zap.Int("max_pages", c.maxPages),
		zap.Int("accumulated", len(results)))
	return results, nil
}

func (c *PRMClient) fetchPage(ctx context.Context, objectType string, since *time.Time, skip int) (results []json.RawMessage, total int, err error) {
	defer func() { c.record.observe(prmSystem, err) }()
	endpoint := fmt.Sprintf("/%s", objectType)

	params := url.Values{}
	params.Set("skip", fmt.Sprintf("%d", skip))
	params.Set("take", fmt.Sprintf("%d", c.pageSize))
	if since != nil {
		// PRM expects ISO-8601 without a zone suffix.
		params.Set("filter", fmt.Sprintf("Updated > '%s'", since.UTC().Format("2006-01-02T15:04:05")))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "AccessKey "+c.accessKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &TransportError{System: prmSystem, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, 0, &APIError{System: prmSystem, Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &TransportError{System: prmSystem, Endpoint: endpoint, Err: err}
	}

	var envelope prmEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, 0, newParseError(prmSystem, endpoint, body, err)
	}
	if !envelope.Success {
		return nil, 0, &APIError{System: prmSystem, Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	return envelope.Data.Results, envelope.Data.Count, nil
}
