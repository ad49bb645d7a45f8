package priceapi

import (
	"bytes"
	"io"
	"net/http"
	"testing"
	"time"

	http_client "github.com/bogdanfinn/fhttp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDoer struct {
	responses []func(req *http_client.Request) (*http_client.Response, error)
	calls     []*http_client.Request
}

func (f *fakeDoer) Do(req *http_client.Request) (*http_client.Response, error) {
	f.calls = append(f.calls, req)
	idx := len(f.calls) - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx](req)
}

func jsonResponse(status int, body string) (*http_client.Response, error) {
	return &http_client.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     http_client.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestGetPriceHistory_SingleChunkSuccess(t *testing.T) {
	doer := &fakeDoer{
		responses: []func(req *http_client.Request) (*http_client.Response, error){
			func(req *http_client.Request) (*http_client.Response, error) {
				return jsonResponse(http.StatusOK, `{"code":0,"msg":"ok","data":[{"unix_time":1000,"value":1.5},{"unix_time":1060,"value":1.6}]}`)
			},
		},
	}

	c := &clientImpl{cfg: Config{BaseURL: "https://price.example", RequestTimeout: 5 * time.Second}, tlsClient: doer, logger: newTestLogger()}

	from := time.Unix(1000, 0)
	to := from.Add(2 * time.Minute)
	points, err := c.GetPriceHistory("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", from, to, "1m")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, int64(1000), points[0].UnixTime)
	assert.Len(t, doer.calls, 1)
}

func TestGetPriceHistory_RejectsSimulationAddressWithoutNetworkCall(t *testing.T) {
	doer := &fakeDoer{}
	c := &clientImpl{cfg: Config{BaseURL: "https://price.example"}, tlsClient: doer, logger: newTestLogger()}

	_, err := c.GetPriceHistory("SIM1111111111111111111111111", time.Now(), time.Now().Add(time.Hour), "1m")
	require.Error(t, err)
	assert.Empty(t, doer.calls)
}

func TestGetPriceHistory_ChunksRangesOverSevenDays(t *testing.T) {
	doer := &fakeDoer{
		responses: []func(req *http_client.Request) (*http_client.Response, error){
			func(req *http_client.Request) (*http_client.Response, error) {
				return jsonResponse(http.StatusOK, `{"code":0,"msg":"ok","data":[{"unix_time":1,"value":1}]}`)
			},
			func(req *http_client.Request) (*http_client.Response, error) {
				return jsonResponse(http.StatusOK, `{"code":0,"msg":"ok","data":[{"unix_time":2,"value":2}]}`)
			},
		},
	}

	c := &clientImpl{cfg: Config{BaseURL: "https://price.example"}, tlsClient: doer, logger: newTestLogger()}

	from := time.Unix(0, 0)
	to := from.Add(10 * 24 * time.Hour)
	points, err := c.GetPriceHistory("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", from, to, "15m")
	require.NoError(t, err)
	assert.Len(t, doer.calls, 2)
	assert.Len(t, points, 2)
}

func TestGetPriceHistory_DoesNotRetryOn4xx(t *testing.T) {
	doer := &fakeDoer{
		responses: []func(req *http_client.Request) (*http_client.Response, error){
			func(req *http_client.Request) (*http_client.Response, error) {
				return jsonResponse(http.StatusBadRequest, `{"code":1,"msg":"bad token"}`)
			},
		},
	}

	c := &clientImpl{cfg: Config{BaseURL: "https://price.example"}, tlsClient: doer, logger: newTestLogger()}

	_, err := c.GetPriceHistory("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", time.Unix(0, 0), time.Unix(60, 0), "1m")
	require.Error(t, err)
	assert.Len(t, doer.calls, 1)
}

func TestGetPriceHistory_RetriesOnceOn5xxThenSucceeds(t *testing.T) {
	doer := &fakeDoer{
		responses: []func(req *http_client.Request) (*http_client.Response, error){
			func(req *http_client.Request) (*http_client.Response, error) {
				return jsonResponse(http.StatusInternalServerError, `{"code":0,"msg":"error"}`)
			},
			func(req *http_client.Request) (*http_client.Response, error) {
				return jsonResponse(http.StatusOK, `{"code":0,"msg":"ok","data":[{"unix_time":5,"value":2.5}]}`)
			},
		},
	}

	c := &clientImpl{cfg: Config{BaseURL: "https://price.example"}, tlsClient: doer, logger: newTestLogger()}

	points, err := c.GetPriceHistory("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", time.Unix(0, 0), time.Unix(60, 0), "1m")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Len(t, doer.calls, 2)
}
