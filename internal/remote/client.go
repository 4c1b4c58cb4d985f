// Package remote implements the transport adapters for the coordination
// backend: a REST client for paged fetches and a websocket change feed.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/lastmilehq/deliverysync/internal/domain"
)

const dateParamLayout = "2006-01-02"

// ClientConfig holds the settings for the REST client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RetryCount int
}

// Client is a resty-backed RemoteDataSource. All requests are GETs and safe
// to retry; transient failures are retried with a short backoff before an
// error is surfaced.
type Client struct {
	http *resty.Client
	log  *slog.Logger
}

// NewClient creates a Client for the given backend.
func NewClient(cfg ClientConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)

	httpClient.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() >= http.StatusInternalServerError ||
			r.StatusCode() == http.StatusTooManyRequests
	})

	return &Client{http: httpClient, log: log}
}

// pageEnvelope mirrors the backend's list response.
type pageEnvelope struct {
	Items []domain.Service `json:"items"`
	Total int              `json:"total"`
}

// errorEnvelope mirrors the backend's error response.
type errorEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FetchPage retrieves one window of the services collection.
func (c *Client) FetchPage(ctx context.Context, q domain.RemoteQuery) (*domain.Page, error) {
	params := map[string]string{
		"limit":  strconv.Itoa(q.Limit),
		"offset": strconv.Itoa(q.Offset),
	}
	if q.Search != "" {
		params["search"] = q.Search
	}
	if q.Status != "" {
		params["status"] = q.Status
	}
	if q.Type != "" {
		params["type"] = q.Type
	}
	if q.StoreID != "" {
		params["store_id"] = q.StoreID
	}
	if q.CourierID != "" {
		params["courier_id"] = q.CourierID
	}
	if q.Paid != nil {
		params["paid"] = strconv.FormatBool(*q.Paid)
	}
	if !q.StartDate.IsZero() {
		params["start_date"] = q.StartDate.Format(dateParamLayout)
	}
	if !q.EndDate.IsZero() {
		params["end_date"] = q.EndDate.Format(dateParamLayout)
	}
	if q.SortKey != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		params["sort"] = string(q.SortKey) + ":" + dir
	}

	var page pageEnvelope
	var apiErr errorEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&page).
		SetError(&apiErr).
		Get("/api/v1/services")
	if err != nil {
		return nil, domain.NewAppError(domain.CodeFetch, "failed to fetch services", err)
	}
	if resp.IsError() {
		return nil, domain.NewAppError(domain.CodeFetch, remoteMessage(&apiErr, resp.StatusCode()), nil)
	}
	if page.Items == nil {
		page.Items = []domain.Service{}
	}
	return &domain.Page{Items: page.Items, Total: page.Total}, nil
}

// FetchOne retrieves a single record's full detail.
func (c *Client) FetchOne(ctx context.Context, id string) (*domain.Service, error) {
	var svc domain.Service
	var apiErr errorEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&svc).
		SetError(&apiErr).
		Get("/api/v1/services/{id}")
	if err != nil {
		return nil, domain.NewAppError(domain.CodeFetch, "failed to fetch service "+id, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, domain.NewAppError(domain.CodeNotFound, "service "+id+" no longer exists", nil)
	}
	if resp.IsError() {
		return nil, domain.NewAppError(domain.CodeFetch, remoteMessage(&apiErr, resp.StatusCode()), nil)
	}
	return &svc, nil
}

// remoteMessage prefers the backend's human-readable message and falls back
// to the bare status code.
func remoteMessage(e *errorEnvelope, status int) string {
	if e != nil && e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("remote returned status %d", status)
}
