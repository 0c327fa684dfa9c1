package main

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/pvoutput-relay/internal/api/fakeapi"
)

func withFakeAPIs(t *testing.T, solarman *fakeapi.SolarmanAPI, pvoutput *fakeapi.PVOutputAPI) {
	t.Helper()

	client := fakeapi.Client(fakeapi.New(solarman, pvoutput))
	orig := newHTTPClients
	newHTTPClients = func(time.Duration, bool) (*http.Client, *http.Client) { return client, nil }
	t.Cleanup(func() { newHTTPClients = orig })

	t.Setenv("SOLARMAN_BASE_URL", "http://solarman.test/v1")
	t.Setenv("SOLARMAN_CLIENT_ID", "client")
	t.Setenv("SOLARMAN_CLIENT_SECRET", "secret")
	t.Setenv("SOLARMAN_PLANT_ID", "42")
	t.Setenv("SOLARMAN_DEVICE_ID", "123456")
	t.Setenv("PVOUTPUT_BASE_URL", "http://pvoutput.test/service/r2")
	t.Setenv("PVOUTPUT_API_KEY", "key")
	t.Setenv("PVOUTPUT_SYSTEM_ID", "9876")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("UPLOAD_MAX_RETRIES", "0")
	t.Setenv("WEEWX_DRIVER", "")
	t.Setenv("LOG_LEVEL", "error")
}

func fakeSolarman() *fakeapi.SolarmanAPI {
	return &fakeapi.SolarmanAPI{
		ClientID:     "client",
		ClientSecret: "secret",
		UID:          "1001",
		Token:        "tok",
		PlantPower:   `{"code":0,"data":{"powers":[{"time":"2024-06-01T03:00:00Z","power":350}]}}`,
		InverterData: `{"code":0,"data":{"datas":[{"time":"2024-06-01T13:05:00+10:00","power":500,"vac1":240.2}]}}`,
	}
}

func TestRunUploadsInverterSample(t *testing.T) {
	pv := &fakeapi.PVOutputAPI{APIKey: "key", SystemID: "9876"}
	withFakeAPIs(t, fakeSolarman(), pv)

	code := run(context.Background(), nil, &bytes.Buffer{})
	assert.Equal(t, 0, code)

	statuses := pv.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "20240601", statuses[0].Get("d"))
	assert.Equal(t, "03:05", statuses[0].Get("t"))
	assert.Equal(t, "500", statuses[0].Get("v2"))
	assert.Equal(t, "240.2", statuses[0].Get("v6"))
}

func TestRunPowerDataFlag(t *testing.T) {
	pv := &fakeapi.PVOutputAPI{APIKey: "key", SystemID: "9876"}
	withFakeAPIs(t, fakeSolarman(), pv)

	code := run(context.Background(), []string{"-power-data"}, &bytes.Buffer{})
	assert.Equal(t, 0, code)

	statuses := pv.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "03:00", statuses[0].Get("t"))
	assert.Equal(t, "350", statuses[0].Get("v2"))
	assert.False(t, statuses[0].Has("v6"))
}

func TestRunExitCodes(t *testing.T) {
	t.Run("fetch failure", func(t *testing.T) {
		sm := fakeSolarman()
		sm.DataStatus = http.StatusBadGateway
		pv := &fakeapi.PVOutputAPI{APIKey: "key", SystemID: "9876"}
		withFakeAPIs(t, sm, pv)

		assert.Equal(t, 2, run(context.Background(), nil, &bytes.Buffer{}))
		assert.Zero(t, pv.Calls())
	})

	t.Run("upload failure", func(t *testing.T) {
		pv := &fakeapi.PVOutputAPI{APIKey: "wrong", SystemID: "9876"}
		withFakeAPIs(t, fakeSolarman(), pv)

		assert.Equal(t, 3, run(context.Background(), nil, &bytes.Buffer{}))
	})

	t.Run("no generation", func(t *testing.T) {
		sm := fakeSolarman()
		sm.InverterData = `{"code":0,"data":{"datas":[{"time":"2024-06-01T20:05:00+10:00","power":0}]}}`
		pv := &fakeapi.PVOutputAPI{APIKey: "key", SystemID: "9876"}
		withFakeAPIs(t, sm, pv)

		assert.Equal(t, 0, run(context.Background(), nil, &bytes.Buffer{}))
		assert.Zero(t, pv.Calls())
	})

	t.Run("invalid config", func(t *testing.T) {
		withFakeAPIs(t, fakeSolarman(), nil)
		t.Setenv("SOLARMAN_DEVICE_ID", "")

		assert.Equal(t, 1, run(context.Background(), nil, &bytes.Buffer{}))
	})
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 0, run(context.Background(), []string{"-version"}, &out))
	assert.Equal(t, version, strings.TrimSpace(out.String()))
}
