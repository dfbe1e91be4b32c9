package fusionsolar

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const (
	SERIES_PRODUCT_POWER   = "productPower"
	SERIES_USE_POWER       = "usePower"
	SERIES_SELF_USE_POWER  = "selfUsePower"
	SERIES_BUY_POWER       = "buyPower"
	SERIES_DIS_GRID_POWER  = "disGridPower"
	SERIES_CHARGE_POWER    = "chargePower"
	SERIES_DISCHARGE_POWER = "dischargePower"

	DATA_POINT_TIME_LAYOUT = "2006-01-02 15:04"
	NO_VALUE               = "--"
)

// PowerStatus is the account wide real time KPI.
type PowerStatus struct {
	CurrentPowerKW      float64
	TotalPowerTodayKWh  float64
	TotalPowerKWh       float64
	CurrentPowerPresent bool
	TodayPresent        bool
}

type Plant struct {
	Id   string `json:"dn"`
	Name string `json:"stationName"`
}

// PlantStats holds the energy balance series of one plant for the current day.
// Every series is aligned with XAxis.
type PlantStats struct {
	XAxis  []string
	Series map[string][]any
}

type DataPoint struct {
	Time  string
	Value float64
}

// ParsedTime parses the data point timestamp in the given location.
func (p DataPoint) ParsedTime(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DATA_POINT_TIME_LAYOUT, p.Time, loc)
}

// PlantData maps a series name to its most recent valid data point.
type PlantData map[string]DataPoint

func (d PlantData) Value(series string) *float64 {
	p, ok := d[series]
	if !ok {
		return nil
	}
	v := p.Value
	return &v
}

// wire formats

type envelope struct {
	Success  bool            `json:"success"`
	FailCode int             `json:"failCode"`
	Message  string          `json:"message"`
	Data     json.RawMessage `json:"data"`
}

type loginRequest struct {
	OrganizationName string `json:"organizationName"`
	Username         string `json:"username"`
	Password         string `json:"password"`
}

type loginResponse struct {
	ErrorCode           string   `json:"errorCode"`
	ErrorMsg            *string  `json:"errorMsg"`
	RedirectURL         string   `json:"redirectURL"`
	RespMultiRegionName []string `json:"respMultiRegionName"`
}

type keepAliveResponse struct {
	Code    int    `json:"code"`
	Payload string `json:"payload"`
}

type realKPI struct {
	CurrentPower     any `json:"currentPower"`
	DailyEnergy      any `json:"dailyEnergy"`
	CumulativeEnergy any `json:"cumulativeEnergy"`
}

type stationListRequest struct {
	CurPage           int    `json:"curPage"`
	PageSize          int    `json:"pageSize"`
	GridConnectedTime string `json:"gridConnectedTime"`
	QueryTime         int64  `json:"queryTime"`
	TimeZone          int    `json:"timeZone"`
	SortId            string `json:"sortId"`
	SortDir           string `json:"sortDir"`
	Locale            string `json:"locale"`
}

type stationList struct {
	List  []Plant `json:"list"`
	Total int     `json:"total"`
}

// parseValue reads a numeric value that the API may encode as a number, a
// numeric string or the "--" placeholder.
func parseValue(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" || s == NO_VALUE {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func parsePlantStats(raw json.RawMessage) (*PlantStats, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	stats := &PlantStats{
		Series: make(map[string][]any),
	}
	if xAxis, ok := fields["xAxis"]; ok {
		if err := json.Unmarshal(xAxis, &stats.XAxis); err != nil {
			return nil, err
		}
	}
	for key, value := range fields {
		if key == "xAxis" {
			continue
		}
		var series []any
		// scalar fields share the object with the series, skip them
		if err := json.Unmarshal(value, &series); err != nil {
			continue
		}
		stats.Series[key] = series
	}
	return stats, nil
}
