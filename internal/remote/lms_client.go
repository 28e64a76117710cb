package remote

import (
	"bytes"
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

const lmsSystem = "lms"

// LMSUser is a learner account as returned by the LMS API.
type LMSUser struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	Status        string     `json:"status"`
	LastActiveAt  *time.Time `json:"last_active_at"`
	DeactivatedAt *time.Time `json:"deactivated_at"`
}

// LMSGroup is a cohort as returned by the LMS API.
type LMSGroup struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"users_count"`
}

// LMSEnrollment is one transcript row for a user.
type LMSEnrollment struct {
	ID          string     `json:"id"`
	CourseID    string     `json:"course_id"`
	CourseName  string     `json:"course_name"`
	CourseCode  string     `json:"course_code"`
	Percent     float64    `json:"percentage_completed"`
	Score       *float64   `json:"score"`
	EnrolledAt  *time.Time `json:"enrolled_at"`
	CompletedAt *time.Time `json:"completed_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// LMSCourse is a catalog entry.
type LMSCourse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

type lmsPage struct {
	Data  []json.RawMessage `json:"data"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

// LMSClient walks LMS collections following the links.next cursor in each
// response body.
type LMSClient struct {
	baseURL   string
	apiToken  string
	pageSize  int
	pageDelay time.Duration
	maxPages  int

	httpClient *http.Client
	health     *HealthMonitor
	record     CallRecorder
	logger     *zap.Logger
}

// NewLMSClient constructs the client using the shared health monitor.
func NewLMSClient(cfg config.LMSConfig, health *HealthMonitor, record CallRecorder, logger *zap.Logger) *LMSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 200
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LMSClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiToken:   cfg.APIToken,
		pageSize:   pageSize,
		pageDelay:  cfg.PageDelay,
		maxPages:   maxPages,
		httpClient: &http.Client{Timeout: timeout},
		health:     health,
		record:     record,
		logger:     logger,
	}
}

// FetchUsers returns learner accounts, scoped to records updated at or after
// since when a cursor is supplied.
func (c *LMSClient) FetchUsers(ctx context.Context, since *time.Time) ([]LMSUser, error) {
	params := url.Values{}
	if since != nil {
		params.Set("filter[updated_at][gteq]", since.UTC().Format(time.RFC3339))
	}
	raw, err := c.fetchAll(ctx, "/users", params)
	users := make([]LMSUser, 0, len(raw))
	for _, msg := range raw {
		var user LMSUser
		if uerr := json.Unmarshal(msg, &user); uerr != nil {
			return users, newParseError(lmsSystem, "/users", msg, uerr)
		}
		users = append(users, user)
	}
	return users, err
}

// FetchGroups returns every cohort.
func (c *LMSClient) FetchGroups(ctx context.Context) ([]LMSGroup, error) {
	raw, err := c.fetchAll(ctx, "/groups", nil)
	return decodeGroups(raw, "/groups", err)
}

// GetGroup fetches a single cohort, used for member-count checks.
func (c *LMSClient) GetGroup(ctx context.Context, groupID string) (*LMSGroup, error) {
	endpoint := "/groups/" + groupID
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Data LMSGroup `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, newParseError(lmsSystem, endpoint, body, err)
	}
	return &wrapper.Data, nil
}

// FetchGroupUsers returns the learner ids belonging to a group.
func (c *LMSClient) FetchGroupUsers(ctx context.Context, groupID string) ([]LMSUser, error) {
	endpoint := "/groups/" + groupID + "/users"
	raw, err := c.fetchAll(ctx, endpoint, nil)
	users := make([]LMSUser, 0, len(raw))
	for _, msg := range raw {
		var user LMSUser
		if uerr := json.Unmarshal(msg, &user); uerr != nil {
			return users, newParseError(lmsSystem, endpoint, msg, uerr)
		}
		users = append(users, user)
	}
	return users, err
}

// FetchUserEnrollments returns a user's transcript.
func (c *LMSClient) FetchUserEnrollments(ctx context.Context, userID string) ([]LMSEnrollment, error) {
	endpoint := "/users/" + userID + "/enrollments"
	raw, err := c.fetchAll(ctx, endpoint, nil)
	enrollments := make([]LMSEnrollment, 0, len(raw))
	for _, msg := range raw {
		var enrollment LMSEnrollment
		if uerr := json.Unmarshal(msg, &enrollment); uerr != nil {
			return enrollments, newParseError(lmsSystem, endpoint, msg, uerr)
		}
		enrollments = append(enrollments, enrollment)
	}
	return enrollments, err
}

// FetchCourses returns the course catalog.
func (c *LMSClient) FetchCourses(ctx context.Context) ([]LMSCourse, error) {
	raw, err := c.fetchAll(ctx, "/courses", nil)
	courses := make([]LMSCourse, 0, len(raw))
	for _, msg := range raw {
		var course LMSCourse
		if uerr := json.Unmarshal(msg, &course); uerr != nil {
			return courses, newParseError(lmsSystem, "/courses", msg, uerr)
		}
		courses = append(courses, course)
	}
	return courses, err
}

// RemoveGroupMembers removes the given people from a group. A 404 means the
// membership is already gone and is not an error.
func (c *LMSClient) RemoveGroupMembers(ctx context.Context, groupID string, personIDs []string) error {
	if len(personIDs) == 0 {
		return nil
	}
	endpoint := "/groups/" + groupID + "/relationships/users"
	payload := struct {
		Data []string `json:"data"`
	}{Data: personIDs}
	_, err := c.do(ctx, http.MethodDelete, endpoint, payload)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// DeleteGroup removes a group. A 404 means it is already gone.
func (c *LMSClient) DeleteGroup(ctx context.Context, groupID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/groups/"+groupID, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// fetchAll follows links.next until exhausted or the page ceiling is hit.
// Later-page failures return the accumulated records with the error attached.
func (c *LMSClient) fetchAll(ctx context.Context, endpoint string, params url.Values) ([]json.RawMessage, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("page[size]", fmt.Sprintf("%d", c.pageSize))

	next := c.baseURL + endpoint + "?" + params.Encode()
	var results []json.RawMessage

	for page := 0; next != "" && page < c.maxPages; page++ {
		if page > 0 && c.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(c.pageDelay):
			}
		}

		body, err := c.doURL(ctx, http.MethodGet, next, endpoint, nil)
		if err != nil {
			c.health.RecordFailure()
			if page == 0 {
				return nil, err
			}
			c.logger.Warn("lms page fetch failed, returning partial results",
				zap.String("endpoint", endpoint),
				zap.Int("page", page),
				zap.Int("accumulated", len(results)),
				zap.Error(err))
			return results, err
		}
		c.health.RecordSuccess()

		var pageBody lmsPage
		if err := json.Unmarshal(body, &pageBody); err != nil {
			return results, newParseError(lmsSystem, endpoint, body, err)
		}

		results = append(results, pageBody.Data...)
		next = pageBody.Links.Next
	}

	if next != "" {
		c.logger.Warn("lms pagination hit the page ceiling",
			zap.String("endpoint", endpoint),
			zap.Int("max_pages", c.maxPages),
			zap.Int("accumulated", len(results)))
	}
	return results, nil
}

func (c *LMSClient) do(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, error) {
	return c.doURL(ctx, method, c.baseURL+endpoint, endpoint, payload)
}

func (c *LMSClient) doURL(ctx context.Context, method, fullURL, endpoint string, payload interface{}) (body []byte, err error) {
	defer func() { c.record.observe(lmsSystem, err) }()

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{System: lmsSystem, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{System: lmsSystem, Endpoint: endpoint, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{System: lmsSystem, Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	return body, nil
}

func decodeGroups(raw []json.RawMessage, endpoint string, err error) ([]LMSGroup, error) {
	groups := make([]LMSGroup, 0, len(raw))
	for _, msg := range raw {
		var group LMSGroup
		if uerr := json.Unmarshal(msg, &group); uerr != nil {
			return groups, newParseError(lmsSystem, endpoint, msg, uerr)
		}
		groups = append(groups, group)
	}
	return groups, err
}
