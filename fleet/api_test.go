package fleet_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleexa-project/devices/core/schema"
	"github.com/fleexa-project/devices/device"
	"github.com/fleexa-project/devices/device/simulators"
	"github.com/fleexa-project/devices/fleet"
)

func testRouter(t *testing.T) *mux.Router {
	t.Helper()

	registry, err := schema.NewRegistryFromStrings(nil)
	require.NoError(t, err)
	cfg := device.Config{Broker: "tcp://localhost:1883"}

	sessions := make(map[string]*device.Session)
	for _, identity := range []device.Identity{
		{DeviceID: "device-1", DeviceType: "temperature_sensor", Location: "Living Room"},
		{DeviceID: "lock-01", DeviceType: "smart_lock", Location: "Front Door"},
	} {
		session, err := device.NewSession(identity, cfg, registry, simulators.ForType(identity.DeviceType))
		require.NoError(t, err)
		sessions[identity.DeviceID] = session
	}

	router := mux.NewRouter()
	fleet.NewAPI(&fleet.Builder{Router: router, Sessions: sessions})
	return router
}

func TestListDevices(t *testing.T) {
	router := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/devices", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var infos []device.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "device-1", infos[0].DeviceID)
	assert.Equal(t, "lock-01", infos[1].DeviceID)
	assert.Equal(t, device.StatusInactive, infos[0].Status)
}

func TestGetDevice(t *testing.T) {
	router := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/devices/lock-01", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var info device.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "lock-01", info.DeviceID)
	assert.Equal(t, "smart_lock", info.DeviceType)
	assert.False(t, info.IsConnected)
}

func TestGetUnknownDevice(t *testing.T) {
	router := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/devices/device-42", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
