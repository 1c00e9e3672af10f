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
)

// APIError wraps a non-2xx response from the model process.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Client talks the control protocol to a model process over HTTP. It
// satisfies Bmi; every call blocks until the process responds.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewClient creates a client with sane defaults. Model steps can be slow, so
// the default timeout is generous.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 5 * time.Minute,
	}
}

var _ Bmi = (*Client)(nil)

type initializeRequest struct {
	ConfigFile string `json:"config_file"`
}

type untilRequest struct {
	Until float64 `json:"until"`
}

type timeResponse struct {
	Time float64 `json:"time"`
}

type unitsResponse struct {
	Units string `json:"units"`
}

type valuesBody struct {
	Values []float64 `json:"values"`
}

type indexedBody struct {
	Indices []int     `json:"indices"`
	Values  []float64 `json:"values,omitempty"`
}

type gridResponse struct {
	Grid int `json:"grid"`
}

type intResponse struct {
	Value int `json:"value"`
}

type shapeResponse struct {
	Shape []int `json:"shape"`
}

type namesResponse struct {
	Names []string `json:"names"`
}

func (c *Client) Initialize(ctx context.Context, configPath string) error {
	return c.do(ctx, http.MethodPost, "initialize", initializeRequest{ConfigFile: configPath}, nil)
}

func (c *Client) Update(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "update", nil, nil)
}

func (c *Client) UpdateUntil(ctx context.Context, until float64) error {
	return c.do(ctx, http.MethodPost, "update_until", untilRequest{Until: until}, nil)
}

func (c *Client) Finalize(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "finalize", nil, nil)
}

func (c *Client) GetCurrentTime(ctx context.Context) (float64, error) {
	var resp timeResponse
	err := c.do(ctx, http.MethodGet, "time/current", nil, &resp)
	return resp.Time, err
}

func (c *Client) GetStartTime(ctx context.Context) (float64, error) {
	var resp timeResponse
	err := c.do(ctx, http.MethodGet, "time/start", nil, &resp)
	return resp.Time, err
}

func (c *Client) GetEndTime(ctx context.Context) (float64, error) {
	var resp timeResponse
	err := c.do(ctx, http.MethodGet, "time/end", nil, &resp)
	return resp.Time, err
}

func (c *Client) GetTimeStep(ctx context.Context) (float64, error) {
	var resp timeResponse
	err := c.do(ctx, http.MethodGet, "time/step", nil, &resp)
	return resp.Time, err
}

func (c *Client) GetTimeUnits(ctx context.Context) (string, error) {
	var resp unitsResponse
	err := c.do(ctx, http.MethodGet, "time/units", nil, &resp)
	return resp.Units, err
}

func (c *Client) GetValue(ctx context.Context, name string) ([]float64, error) {
	var resp valuesBody
	err := c.do(ctx, http.MethodGet, c.varPath(name, "value"), nil, &resp)
	return resp.Values, err
}

func (c *Client) GetValueAtIndices(ctx context.Context, name string, indices []int) ([]float64, error) {
	var resp valuesBody
	err := c.do(ctx, http.MethodPost, c.varPath(name, "value_at_indices"), indexedBody{Indices: indices}, &resp)
	return resp.Values, err
}

func (c *Client) SetValue(ctx context.Context, name string, values []float64) error {
	return c.do(ctx, http.MethodPut, c.varPath(name, "value"), valuesBody{Values: values}, nil)
}

func (c *Client) SetValueAtIndices(ctx context.Context, name string, indices []int, values []float64) error {
	return c.do(ctx, http.MethodPut, c.varPath(name, "value_at_indices"), indexedBody{Indices: indices, Values: values}, nil)
}

func (c *Client) GetVarGrid(ctx context.Context, name string) (int, error) {
	var resp gridResponse
	err := c.do(ctx, http.MethodGet, c.varPath(name, "grid"), nil, &resp)
	return resp.Grid, err
}

func (c *Client) GetGridRank(ctx context.Context, grid int) (int, error) {
	var resp intResponse
	err := c.do(ctx, http.MethodGet, gridPath(grid, "rank"), nil, &resp)
	return resp.Value, err
}

func (c *Client) GetGridSize(ctx context.Context, grid int) (int, error) {
	var resp intResponse
	err := c.do(ctx, http.MethodGet, gridPath(grid, "size"), nil, &resp)
	return resp.Value, err
}

func (c *Client) GetGridShape(ctx context.Context, grid int) ([]int, error) {
	var resp shapeResponse
	err := c.do(ctx, http.MethodGet, gridPath(grid, "shape"), nil, &resp)
	return resp.Shape, err
}

func (c *Client) GetGridX(ctx context.Context, grid int) ([]float64, error) {
	var resp valuesBody
	err := c.do(ctx, http.MethodGet, gridPath(grid, "x"), nil, &resp)
	return resp.Values, err
}

func (c *Client) GetGridY(ctx context.Context, grid int) ([]float64, error) {
	var resp valuesBody
	err := c.do(ctx, http.MethodGet, gridPath(grid, "y"), nil, &resp)
	return resp.Values, err
}

func (c *Client) GetInputVarNames(ctx context.Context) ([]string, error) {
	var resp namesResponse
	err := c.do(ctx, http.MethodGet, "vars/input", nil, &resp)
	return resp.Names, err
}

func (c *Client) GetOutputVarNames(ctx context.Context) ([]string, error) {
	var resp namesResponse
	err := c.do(ctx, http.MethodGet, "vars/output", nil, &resp)
	return resp.Names, err
}

func (c *Client) varPath(name, op string) string {
	return fmt.Sprintf("var/%s/%s", url.PathEscape(name), op)
}

func gridPath(grid int, op string) string {
	return fmt.Sprintf("grid/%d/%s", grid, op)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
