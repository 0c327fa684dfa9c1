package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/i474232898/pvoutput-relay/internal/api/fakeapi"
	"github.com/i474232898/pvoutput-relay/internal/solar"
)

const (
	testClientID = "client-1"
	testSecret   = "s3cret"
)

func newFakeSolarman() *fakeapi.SolarmanAPI {
	return &fakeapi.SolarmanAPI{
		ClientID:     testClientID,
		ClientSecret: testSecret,
		UID:          "1001",
		Token:        "tok-abc",
		PlantPower: `{"code":0,"data":{"powers":[
			{"time":"2024-06-01T02:50:00Z","power":310},
			{"time":"2024-06-01T03:00:00Z","power":350}
		]}}`,
		InverterData: `{"code":0,"data":{"datas":[
			{"time":"2024-06-01T13:05:00+10:00","power":500,"iPv1":2.1,"vPv1":310.5,"iac1":2.0,"vac1":240.2,"fac":50.02}
		]}}`,
	}
}

func newTestSolarman(t *testing.T, api *fakeapi.SolarmanAPI) *SolarmanProvider {
	t.Helper()
	client := fakeapi.Client(fakeapi.New(api, nil))
	return NewSolarmanProvider(client, nil, SolarmanConfig{
		BaseURL:      "http://solarman.test/v1",
		ClientID:     testClientID,
		ClientSecret: testSecret,
		PlantID:      "42",
		DeviceID:     "123456",
		TimezoneID:   "Australia/Canberra",
	}, zaptest.NewLogger(t))
}

var testDay = time.Date(2024, 6, 1, 13, 10, 0, 0, time.UTC)

func TestSolarmanFetchPowerBatch(t *testing.T) {
	api := newFakeSolarman()
	p := newTestSolarman(t, api)

	batch, err := p.FetchBatch(context.Background(), testDay, solar.ModePower)
	require.NoError(t, err)
	assert.Equal(t, solar.ModePower, batch.Mode)
	require.Len(t, batch.Records, 2)
	assert.Equal(t, 350.0, batch.Records[1].Power)

	q := api.LastQuery()
	assert.Equal(t, "42", q.Get("plant_id"))
	assert.Equal(t, "2024-06-01", q.Get("date"))
	assert.Equal(t, "Australia/Canberra", q.Get("timezone_id"))
}

func TestSolarmanFetchInverterBatch(t *testing.T) {
	api := newFakeSolarman()
	p := newTestSolarman(t, api)

	batch, err := p.FetchBatch(context.Background(), testDay, solar.ModeInverter)
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	r := batch.Records[0]
	require.NotNil(t, r.Vac1)
	assert.Equal(t, 240.2, *r.Vac1)
	require.NotNil(t, r.Fac)
	assert.Equal(t, 50.02, *r.Fac)

	q := api.LastQuery()
	assert.Equal(t, "123456", q.Get("device_id"))
	assert.Equal(t, "2024-06-01", q.Get("start_date"))
	assert.Equal(t, "2024-06-01", q.Get("end_date"))
	assert.Equal(t, "500", q.Get("perpage"))
}

func TestSolarmanTokenIsReused(t *testing.T) {
	api := newFakeSolarman()
	p := newTestSolarman(t, api)

	for i := 0; i < 2; i++ {
		_, err := p.FetchBatch(context.Background(), testDay, solar.ModePower)
		require.NoError(t, err)
	}
	tokenCalls, dataCalls := api.Calls()
	assert.Equal(t, 1, tokenCalls)
	assert.Equal(t, 2, dataCalls)
}

func TestSolarmanAuthFailure(t *testing.T) {
	api := newFakeSolarman()
	api.ClientSecret = "rotated"
	p := newTestSolarman(t, api)

	_, err := p.FetchBatch(context.Background(), testDay, solar.ModePower)
	var fe *solar.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "token", fe.Op)
	assert.ErrorIs(t, err, errNotAuthorised)

	_, dataCalls := api.Calls()
	assert.Zero(t, dataCalls)
}

func TestSolarmanEnvelopeErrors(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>maintenance</html>`},
		{name: "no data object", body: `{"code":1001,"msg":"plant not found"}`},
		{name: "missing powers", body: `{"code":0,"data":{"total":0}}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			api := newFakeSolarman()
			api.PlantPower = tc.body
			p := newTestSolarman(t, api)

			_, err := p.FetchBatch(context.Background(), testDay, solar.ModePower)
			var fe *solar.FetchError
			require.ErrorAs(t, err, &fe)
			assert.ErrorIs(t, err, errMalformedEnvelope)
			assert.NotErrorIs(t, err, solar.ErrNotSequence)
		})
	}
}

func TestSolarmanRecordsNotASequence(t *testing.T) {
	api := newFakeSolarman()
	api.PlantPower = `{"code":0,"data":{"powers":null}}`
	p := newTestSolarman(t, api)

	_, err := p.FetchBatch(context.Background(), testDay, solar.ModePower)
	require.ErrorIs(t, err, solar.ErrNotSequence)
	var fe *solar.FetchError
	assert.False(t, errors.As(err, &fe))
}

func TestSolarmanKeepsBatchWithBadlyTypedRecord(t *testing.T) {
	api := newFakeSolarman()
	api.InverterData = `{"code":0,"data":{"datas":[
		{"time":"2024-06-01T13:05:00+10:00","power":500},
		{"time":1717211100,"power":10}
	]}}`
	p := newTestSolarman(t, api)

	batch, err := p.FetchBatch(context.Background(), testDay, solar.ModeInverter)
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)

	s, ok := solar.SelectMostRecent(batch)
	require.True(t, ok)
	assert.Equal(t, 500.0, s.Power)
}

func TestSolarmanServerErrorIsFetchError(t *testing.T) {
	api := newFakeSolarman()
	api.DataStatus = http.StatusBadGateway
	p := newTestSolarman(t, api)

	_, err := p.FetchBatch(context.Background(), testDay, solar.ModeInverter)
	var fe *solar.FetchError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, errServerError)
	_, dataCalls := api.Calls()
	assert.Equal(t, 1, dataCalls, "retries are disabled by default")
}
