package fusionsolar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	LOGIN_PATH          = "/unisso/v2/validateUser.action"
	LOGIN_SERVICE_PATH  = "/unisso/login.action"
	LOGOUT_PATH         = "/unisso/logout"
	KEEP_ALIVE_PATH     = "/rest/neteco/auth/v1/keep-alive"
	STATION_LIST_PATH   = "/rest/pvms/web/station/v1/station/station-list"
	REAL_KPI_PATH       = "/rest/pvms/web/station/v1/station/total-real-kpi"
	ENERGY_BALANCE_PATH = "/rest/pvms/web/station/v1/overview/energy-balance"

	DEFAULT_SUBDOMAIN = "region03eu5"
	DEFAULT_TIMEOUT   = 30 * time.Second

	roarandHeader = "roarand"
	plantPageSize = 10
)

type Client interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	GetPlantIds(ctx context.Context) ([]string, error)
	GetPowerStatus(ctx context.Context) (*PowerStatus, error)
	GetPlantStats(ctx context.Context, plantId string) (*PlantStats, error)
}

type HTTPClient struct {
	username  string
	password  string
	subdomain string
	baseURL   string
	location  *time.Location
	now       func() time.Time
	http      *resty.Client
	loggedIn  bool
	logger    *zap.Logger
}

type Option func(*HTTPClient)

// WithBaseURL overrides the URL derived from the subdomain.
func WithBaseURL(baseURL string) Option {
	return func(c *HTTPClient) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *HTTPClient) {
		c.http.SetTimeout(timeout)
	}
}

func WithLocation(loc *time.Location) Option {
	return func(c *HTTPClient) {
		c.location = loc
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *HTTPClient) {
		c.now = now
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

func BaseURL(subdomain string) string {
	if subdomain == "" {
		subdomain = DEFAULT_SUBDOMAIN
	}
	return fmt.Sprintf("https://%s.fusionsolar.huawei.com", subdomain)
}

func NewClient(username, password, subdomain string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		username:  username,
		password:  password,
		subdomain: subdomain,
		baseURL:   BaseURL(subdomain),
		location:  time.Local,
		now:       time.Now,
		http: resty.New().
			SetTimeout(DEFAULT_TIMEOUT).
			SetHeader("Accept", "application/json"),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.SetBaseURL(c.baseURL)
	return c
}

// CreateClient builds a client and logs in, so that an invalid account is
// reported before the first poll.
func CreateClient(ctx context.Context, username, password, subdomain string, opts ...Option) (*HTTPClient, error) {
	c := NewClient(username, password, subdomain, opts...)
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *HTTPClient) Login(ctx context.Context) error {
	c.loggedIn = false
	c.http.Header.Del(roarandHeader)

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"decision": "1",
			"service":  c.baseURL + LOGIN_SERVICE_PATH,
		}).
		SetBody(loginRequest{
			Username: c.username,
			Password: c.password,
		}).
		Post(LOGIN_PATH)
	if err != nil {
		return fmt.Errorf("fusionsolar: login: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", ErrAuthentication, resp.StatusCode())
	}
	if resp.IsError() {
		return &APIError{Path: LOGIN_PATH, StatusCode: resp.StatusCode()}
	}

	var login loginResponse
	if err := json.Unmarshal(resp.Body(), &login); err != nil {
		return fmt.Errorf("%w: login response: %v", ErrInvalidPayload, err)
	}
	if login.ErrorMsg != nil && *login.ErrorMsg != "" {
		return fmt.Errorf("%w: %s", ErrAuthentication, *login.ErrorMsg)
	}

	// accounts hosted on another region are redirected once
	if len(login.RespMultiRegionName) > 1 {
		target := login.RespMultiRegionName[1]
		if !strings.HasPrefix(target, "/") {
			target = "/" + target
		}
		c.logger.Debug("fusionsolar: following region redirect", zap.String("target", target))
		if _, err := c.http.R().SetContext(ctx).Get(target); err != nil {
			return fmt.Errorf("fusionsolar: region redirect: %w", err)
		}
	}

	resp, err = c.http.R().SetContext(ctx).Get(KEEP_ALIVE_PATH)
	if err != nil {
		return fmt.Errorf("fusionsolar: keep-alive: %w", err)
	}
	if sessionExpired(resp) {
		return fmt.Errorf("%w: no session after login", ErrAuthentication)
	}
	if resp.IsError() {
		return &APIError{Path: KEEP_ALIVE_PATH, StatusCode: resp.StatusCode()}
	}
	var keepAlive keepAliveResponse
	if err := json.Unmarshal(resp.Body(), &keepAlive); err != nil {
		return fmt.Errorf("%w: keep-alive response: %v", ErrInvalidPayload, err)
	}
	c.http.SetHeader(roarandHeader, keepAlive.Payload)
	c.loggedIn = true
	c.logger.Debug("fusionsolar: logged in", zap.String("subdomain", c.subdomain))
	return nil
}

func (c *HTTPClient) Logout(ctx context.Context) error {
	if !c.loggedIn {
		return nil
	}
	c.loggedIn = false
	_, err := c.http.R().SetContext(ctx).Get(LOGOUT_PATH)
	if err != nil {
		return fmt.Errorf("fusionsolar: logout: %w", err)
	}
	return nil
}

func (c *HTTPClient) GetPlantIds(ctx context.Context) ([]string, error) {
	var ids []string
	for page := 1; ; page++ {
		data, err := c.request(ctx, http.MethodPost, STATION_LIST_PATH, nil, stationListRequest{
			CurPage:   page,
			PageSize:  plantPageSize,
			QueryTime: c.now().UnixMilli(),
			TimeZone:  c.timeZoneOffset(),
			SortId:    "createTime",
			SortDir:   "DESC",
			Locale:    "en_US",
		})
		if err != nil {
			return nil, err
		}
		var list stationList
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("%w: station list: %v", ErrInvalidPayload, err)
		}
		for _, plant := range list.List {
			ids = append(ids, plant.Id)
		}
		if len(list.List) < plantPageSize || len(ids) >= list.Total {
			break
		}
	}
	return ids, nil
}

func (c *HTTPClient) GetPowerStatus(ctx context.Context) (*PowerStatus, error) {
	now := c.now()
	data, err := c.request(ctx, http.MethodGet, REAL_KPI_PATH, map[string]string{
		"queryTime": strconv.FormatInt(now.UnixMilli(), 10),
		"timeZone":  strconv.Itoa(c.timeZoneOffset()),
		"_":         strconv.FormatInt(now.UnixMilli(), 10),
	}, nil)
	if err != nil {
		return nil, err
	}
	var kpi realKPI
	if err := json.Unmarshal(data, &kpi); err != nil {
		return nil, fmt.Errorf("%w: real kpi: %v", ErrInvalidPayload, err)
	}
	status := &PowerStatus{}
	status.CurrentPowerKW, status.CurrentPowerPresent = parseValue(kpi.CurrentPower)
	status.TotalPowerTodayKWh, status.TodayPresent = parseValue(kpi.DailyEnergy)
	status.TotalPowerKWh, _ = parseValue(kpi.CumulativeEnergy)
	return status, nil
}

func (c *HTTPClient) GetPlantStats(ctx context.Context, plantId string) (*PlantStats, error) {
	now := c.now().In(c.location)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.location)
	data, err := c.request(ctx, http.MethodGet, ENERGY_BALANCE_PATH, map[string]string{
		"stationDn":   plantId,
		"timeDim":     "2",
		"queryTime":   strconv.FormatInt(midnight.UnixMilli(), 10),
		"timeZone":    strconv.Itoa(c.timeZoneOffset()),
		"timeZoneStr": c.location.String(),
		"_":           strconv.FormatInt(now.UnixMilli(), 10),
	}, nil)
	if err != nil {
		return nil, err
	}
	stats, err := parsePlantStats(data)
	if err != nil {
		return nil, fmt.Errorf("%w: energy balance: %v", ErrInvalidPayload, err)
	}
	return stats, nil
}

// GetLastPlantData returns, for every series, the latest entry that holds a
// value. Series without any value are left out.
func GetLastPlantData(stats *PlantStats) PlantData {
	data := make(PlantData)
	if stats == nil {
		return data
	}
	for key, series := range stats.Series {
		if len(series) != len(stats.XAxis) {
			continue
		}
		for i := len(series) - 1; i >= 0; i-- {
			if value, ok := parseValue(series[i]); ok {
				data[key] = DataPoint{
					Time:  stats.XAxis[i],
					Value: value,
				}
				break
			}
		}
	}
	return data
}

func (c *HTTPClient) request(ctx context.Context, method, path string, query map[string]string, body any) (json.RawMessage, error) {
	if !c.loggedIn {
		return nil, ErrNotLoggedIn
	}
	data, err := c.doRequest(ctx, method, path, query, body)
	if errors.Is(err, errSessionExpired) {
		// sessions time out on the server side, a fresh login is cheap
		c.logger.Info("fusionsolar: session expired, logging in again")
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		data, err = c.doRequest(ctx, method, path, query, body)
		if errors.Is(err, errSessionExpired) {
			return nil, fmt.Errorf("%w: session rejected after login", ErrAuthentication)
		}
	}
	return data, err
}

var errSessionExpired = errors.New("fusionsolar: session expired")

func (c *HTTPClient) doRequest(ctx context.Context, method, path string, query map[string]string, body any) (json.RawMessage, error) {
	req := c.http.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("fusionsolar: %s: %w", path, err)
	}
	if sessionExpired(resp) {
		return nil, errSessionExpired
	}
	if resp.IsError() {
		return nil, &APIError{Path: path, StatusCode: resp.StatusCode()}
	}
	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, path, err)
	}
	if !env.Success {
		return nil, &APIError{Path: path, StatusCode: resp.StatusCode(), Message: env.Message}
	}
	return env.Data, nil
}

func (c *HTTPClient) timeZoneOffset() int {
	_, offset := c.now().In(c.location).Zone()
	return offset / 3600
}

func sessionExpired(resp *resty.Response) bool {
	if resp.StatusCode() == http.StatusUnauthorized {
		return true
	}
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		if strings.Contains(raw.Request.URL.Path, LOGIN_SERVICE_PATH) {
			return true
		}
	}
	return strings.HasPrefix(resp.Header().Get("Content-Type"), "text/html")
}

// ensure interface compliance
var _ Client = (*HTTPClient)(nil)
