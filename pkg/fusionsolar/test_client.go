package fusionsolar

import (
	"context"
	"sync"
)

// TestClient is an in-memory Client. Values can be changed between calls and
// errors injected to simulate an unreachable or rejecting cloud.
type TestClient struct {
	mu sync.Mutex

	PlantIds    []string
	PowerStatus PowerStatus
	Stats       map[string]*PlantStats

	LoginErr  error
	FetchErr  error
	LoggedIn  bool
	LoggedOut bool
	Calls     int
}

func NewTestClient() *TestClient {
	return &TestClient{
		PlantIds: []string{"NE=33594051"},
		PowerStatus: PowerStatus{
			CurrentPowerKW:      2.35,
			TotalPowerTodayKWh:  11.2,
			TotalPowerKWh:       8423.1,
			CurrentPowerPresent: true,
			TodayPresent:        true,
		},
		Stats: map[string]*PlantStats{
			"NE=33594051": {
				XAxis: []string{"2024-05-02 10:00", "2024-05-02 10:05", "2024-05-02 10:10"},
				Series: map[string][]any{
					SERIES_PRODUCT_POWER: {"0.42", "0.61", NO_VALUE},
					SERIES_USE_POWER:     {"0.30", "0.50", NO_VALUE},
					SERIES_BUY_POWER:     {"0.10", "0.20", NO_VALUE},
				},
			},
		},
	}
}

func (c *TestClient) Login(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.LoginErr != nil {
		return c.LoginErr
	}
	c.LoggedIn = true
	return nil
}

func (c *TestClient) Logout(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LoggedIn = false
	c.LoggedOut = true
	return nil
}

func (c *TestClient) GetPlantIds(ctx context.Context) ([]string, error) {
	if err := c.call(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.PlantIds...), nil
}

func (c *TestClient) GetPowerStatus(ctx context.Context) (*PowerStatus, error) {
	if err := c.call(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	status := c.PowerStatus
	return &status, nil
}

func (c *TestClient) GetPlantStats(ctx context.Context, plantId string) (*PlantStats, error) {
	if err := c.call(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	stats, ok := c.Stats[plantId]
	if !ok {
		return &PlantStats{Series: map[string][]any{}}, nil
	}
	return stats, nil
}

func (c *TestClient) SetPowerStatus(current, today float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PowerStatus.CurrentPowerKW = current
	c.PowerStatus.TotalPowerTodayKWh = today
	c.PowerStatus.CurrentPowerPresent = true
	c.PowerStatus.TodayPresent = true
}

func (c *TestClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Calls
}

func (c *TestClient) SetFetchError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FetchErr = err
}

func (c *TestClient) call(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.FetchErr != nil {
		return c.FetchErr
	}
	if !c.LoggedIn {
		return ErrNotLoggedIn
	}
	return nil
}

// ensure interface compliance
var _ Client = (*TestClient)(nil)
