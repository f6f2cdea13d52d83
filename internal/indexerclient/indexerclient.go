// Package indexerclient defines the IndexerClient interface — a REST
// service exposing ordered block-scoped events and agreement snapshots —
// and an HTTP implementation that parses the loosely-specified JSON payloads
// with gjson rather than committing to brittle generated structs.
package indexerclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Forest-Protocols/safe-scan-provider/internal/errors"
	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
)

// Event is one ordered block-scoped event. LogIndex is populated only when
// the indexer exposes a secondary intra-block ordering key (§9 open question
// resolution); zero means "unknown", not "first in block".
type Event struct {
	Name          model.EventName
	BlockNumber   uint64
	LogIndex      uint
	AgreementID   int64
	ProviderAddr  model.Address
	ProtocolAddr  model.Address
	OfferID       int64
	UserAddr      model.Address
}

// SortEvents sorts events ascending by (BlockNumber, LogIndex), the
// authoritative ordering the reconciler applies events in (spec §4.4/§9).
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
}

// AgreementFilter selects agreements for IndexerClient.GetAgreements.
type AgreementFilter struct {
	ProtocolAddress model.Address
	ProviderAddress model.Address // optional
	Status          model.AgreementStatus // optional
	ID              int64 // optional, 0 means unset
	AutoPaginate    bool
}

// EventFilter selects events for IndexerClient.GetEvents.
type EventFilter struct {
	ContractAddress model.Address
	EventName       model.EventName
	FromBlock       uint64
	ToBlock         uint64
	Processed       bool
	Limit           int
	AutoPaginate    bool
}

// Client is the typed surface the Reconciler and Balance Sweeper consume.
type Client interface {
	GetAgreements(ctx context.Context, filter AgreementFilter) ([]model.Agreement, error)
	GetEvents(ctx context.Context, filter EventFilter) ([]Event, error)
	IsHealthy(ctx context.Context) bool
}

// HTTPClient is the reference REST implementation.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPClient builds a client against baseURL with a bounded-timeout
// http.Client.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Transport("build request", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, errors.Transport("indexer request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Transport("read indexer response", err)
	}
	if resp.StatusCode >= 500 {
		return nil, errors.Transport(fmt.Sprintf("indexer returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return nil, errors.Domain(fmt.Sprintf("indexer returned %d", resp.StatusCode), nil)
	}
	return body, nil
}

func (c *HTTPClient) GetAgreements(ctx context.Context, filter AgreementFilter) ([]model.Agreement, error) {
	q := url.Values{}
	q.Set("protocolAddress", filter.ProtocolAddress.String())
	if !filter.ProviderAddress.IsZero() {
		q.Set("providerAddress", filter.ProviderAddress.String())
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.ID != 0 {
		q.Set("id", strconv.FormatInt(filter.ID, 10))
	}

	body, err := c.get(ctx, "/agreements", q)
	if err != nil {
		return nil, err
	}

	var out []model.Agreement
	result := gjson.ParseBytes(body)
	items := result.Get("data")
	if !items.Exists() {
		items = result
	}
	items.ForEach(func(_, item gjson.Result) bool {
		out = append(out, model.Agreement{
			ID:              item.Get("id").Int(),
			ProtocolID:      item.Get("protocolId").Int(),
			UserAddress:     model.NewAddress(item.Get("userAddress").String()),
			ProviderAddress: model.NewAddress(item.Get("providerAddress").String()),
			OfferID:         item.Get("offerId").Int(),
			Balance:         item.Get("balance").Int(),
			Status:          model.AgreementStatus(item.Get("status").String()),
		})
		return true
	})
	return out, nil
}

func (c *HTTPClient) GetEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	q := url.Values{}
	q.Set("contractAddress", filter.ContractAddress.String())
	if filter.EventName != "" {
		q.Set("eventName", string(filter.EventName))
	}
	if filter.FromBlock != 0 {
		q.Set("fromBlock", strconv.FormatUint(filter.FromBlock, 10))
	}
	if filter.ToBlock != 0 {
		q.Set("toBlock", strconv.FormatUint(filter.ToBlock, 10))
	}
	q.Set("processed", strconv.FormatBool(filter.Processed))
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	body, err := c.get(ctx, "/events", q)
	if err != nil {
		return nil, err
	}

	var out []Event
	result := gjson.ParseBytes(body)
	items := result.Get("data")
	if !items.Exists() {
		items = result
	}
	items.ForEach(func(_, item gjson.Result) bool {
		args := item.Get("args")
		out = append(out, Event{
			Name:         model.EventName(item.Get("eventName").String()),
			BlockNumber:  item.Get("blockNumber").Uint(),
			LogIndex:     uint(item.Get("logIndex").Uint()),
			AgreementID:  args.Get("id").Int(),
			ProviderAddr: model.NewAddress(args.Get("provider").String()),
			ProtocolAddr: model.NewAddress(item.Get("contractAddress").String()),
			OfferID:      args.Get("offerId").Int(),
			UserAddr:     model.NewAddress(args.Get("user").String()),
		})
		return true
	})
	SortEvents(out)
	return out, nil
}

func (c *HTTPClient) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

var _ Client = (*HTTPClient)(nil)
