package indexerclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Forest-Protocols/safe-scan-provider/internal/errors"
	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
)

func TestSortEventsOrdersByBlockThenLogIndex(t *testing.T) {
	events := []Event{
		{BlockNumber: 5, LogIndex: 1},
		{BlockNumber: 3, LogIndex: 9},
		{BlockNumber: 5, LogIndex: 0},
	}
	SortEvents(events)
	assert.Equal(t, uint64(3), events[0].BlockNumber)
	assert.Equal(t, uint64(5), events[1].BlockNumber)
	assert.Equal(t, uint(0), events[1].LogIndex)
	assert.Equal(t, uint(1), events[2].LogIndex)
}

func TestHTTPClientGetEventsParsesAndSorts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		w.Write([]byte(`{"data":[
			{"eventName":"AgreementCreated","blockNumber":10,"logIndex":1,"contractAddress":"0xProto","args":{"id":1,"provider":"0xProv","offerId":2,"user":"0xUser"}},
			{"eventName":"AgreementCreated","blockNumber":5,"logIndex":0,"contractAddress":"0xProto","args":{"id":2,"provider":"0xProv","offerId":3,"user":"0xUser"}}
		]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	events, err := c.GetEvents(context.Background(), EventFilter{ContractAddress: model.NewAddress("0xProto")})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(5), events[0].BlockNumber, "results must be sorted ascending")
	assert.Equal(t, int64(1), events[1].AgreementID)
}

func TestHTTPClientGetAgreementsParsesBareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":1,"protocolId":1,"userAddress":"0xUser","providerAddress":"0xProv","offerId":1,"balance":100,"status":"Active"}]`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	out, err := c.GetAgreements(context.Background(), AgreementFilter{ProtocolAddress: model.NewAddress("0xProto")})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(100), out[0].Balance)
	assert.Equal(t, model.AgreementActive, out[0].Status)
}

func TestHTTPClientGetEventsServerErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.GetEvents(context.Background(), EventFilter{})
	assert.Error(t, err)
	assert.Equal(t, errors.KindTransport, errors.KindOf(err))
}

func TestHTTPClientGetEventsClientErrorIsDomain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.GetEvents(context.Background(), EventFilter{})
	assert.Error(t, err)
	assert.Equal(t, errors.KindDomain, errors.KindOf(err))
}

func TestHTTPClientIsHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	assert.True(t, c.IsHealthy(context.Background()))
}

func TestHTTPClientIsHealthyFalseOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	assert.False(t, c.IsHealthy(context.Background()))
}
