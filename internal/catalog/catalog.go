// Package catalog is the narrow client for the external sensor catalog
// (CATALOG_URL): list_sensors, get_sensor, get_attributes, upsert_sensor.
// It's a thin HTTP/JSON client wrapping a REST dependency behind a small
// interface: one client struct, one base URL, json-iterator for the body.
package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sensor is the catalog's record of a known sensor.
type Sensor struct {
	ID         string   `json:"id"`
	NodeName   string   `json:"node_name,omitempty"`
	Attributes []string `json:"attributes"`
}

// Attribute describes one measurable channel on a sensor.
type Attribute struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Unit   string `json:"unit,omitempty"`
}

// Client is the read/write interface onto the external catalog. Defined
// here, built by cmd/sensoctod's startup wiring and handed to
// internal/node, so the catalog's transport never leaks upward.
type Client interface {
	ListSensors(ctx context.Context) ([]Sensor, error)
	GetSensor(ctx context.Context, sensorID string) (Sensor, error)
	GetAttributes(ctx context.Context, sensorID string) ([]Attribute, error)
	UpsertSensor(ctx context.Context, s Sensor) error
}

// HTTPClient is the production Client, talking JSON-over-HTTP to
// CATALOG_URL.
type HTTPClient struct {
	baseURL string
	hc      *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, hc: &http.Client{Timeout: 10 * time.Second}}
}

func (c *HTTPClient) ListSensors(ctx context.Context) ([]Sensor, error) {
	var out []Sensor
	if err := c.do(ctx, http.MethodGet, "/sensors", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) GetSensor(ctx context.Context, sensorID string) (Sensor, error) {
	var out Sensor
	err := c.do(ctx, http.MethodGet, "/sensors/"+sensorID, nil, &out)
	return out, err
}

func (c *HTTPClient) GetAttributes(ctx context.Context, sensorID string) ([]Attribute, error) {
	var out []Attribute
	if err := c.do(ctx, http.MethodGet, "/sensors/"+sensorID+"/attributes", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) UpsertSensor(ctx context.Context, s Sensor) error {
	return c.do(ctx, http.MethodPut, "/sensors/"+s.ID, s, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "catalog: encode request")
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "catalog: build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "catalog: %s %s", method, path)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("catalog: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
