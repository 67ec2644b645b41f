package ocpp

import (
	"testing"

	"charge-controller/internal/config"
	"charge-controller/internal/models"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/smartcharging"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommands struct {
	profiles     []*types.ChargingProfile
	connectors   []int
	availability []core.AvailabilityType
	config       map[string]string
}

func (f *fakeCommands) SetChargingProfile(clientId string, callback func(*smartcharging.SetChargingProfileConfirmation, error), connectorId int, chargingProfile *types.ChargingProfile, props ...func(request *smartcharging.SetChargingProfileRequest)) error {
	f.profiles = append(f.profiles, chargingProfile)
	f.connectors = append(f.connectors, connectorId)
	callback(smartcharging.NewSetChargingProfileConfirmation(smartcharging.ChargingProfileStatusAccepted), nil)
	return nil
}

func (f *fakeCommands) ChangeAvailability(clientId string, callback func(*core.ChangeAvailabilityConfirmation, error), connectorId int, availabilityType core.AvailabilityType, props ...func(request *core.ChangeAvailabilityRequest)) error {
	f.availability = append(f.availability, availabilityType)
	callback(core.NewChangeAvailabilityConfirmation(core.AvailabilityStatusAccepted), nil)
	return nil
}

func (f *fakeCommands) ChangeConfiguration(clientId string, callback func(*core.ChangeConfigurationConfirmation, error), key string, value string, props ...func(request *core.ChangeConfigurationRequest)) error {
	if f.config == nil {
		f.config = make(map[string]string)
	}
	f.config[key] = value
	callback(core.NewChangeConfigurationConfirmation(core.ConfigurationStatusAccepted), nil)
	return nil
}

func newTestServer(chargePointID string) (*Server, *models.ReadingStore, *fakeCommands) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	cfg := &config.Config{
		OCPP: config.OCPPConfig{
			ChargePointID:    chargePointID,
			ConnectorID:      1,
			ReconfigureKey:   "MaxCurrentOffered",
			ReconfigureValue: "32",
		},
	}
	store := models.NewReadingStore(true, true)
	commands := &fakeCommands{}
	return newServer(cfg, logger, store, commands), store, commands
}

func TestServer_CommandsRequireConnection(t *testing.T) {
	server, _, commands := newTestServer("")

	assert.ErrorIs(t, server.SetMaxCurrent(16), ErrNotConnected)
	assert.ErrorIs(t, server.SetChargerEnabled(true), ErrNotConnected)
	assert.ErrorIs(t, server.Reconfigure(), ErrNotConnected)
	assert.Empty(t, commands.profiles)
}

func TestServer_SetMaxCurrentSendsDefaultProfile(t *testing.T) {
	server, _, commands := newTestServer("")
	server.chargePointConnected("CP1")

	require.NoError(t, server.SetMaxCurrent(17))

	require.Len(t, commands.profiles, 1)
	profile := commands.profiles[0]
	assert.Equal(t, types.ChargingProfilePurposeTxDefaultProfile, profile.ChargingProfilePurpose)
	assert.Equal(t, types.ChargingRateUnitAmperes, profile.ChargingSchedule.ChargingRateUnit)
	require.Len(t, profile.ChargingSchedule.ChargingSchedulePeriod, 1)
	assert.Equal(t, 17.0, profile.ChargingSchedule.ChargingSchedulePeriod[0].Limit)
	assert.Equal(t, []int{1}, commands.connectors)
}

func TestServer_EnableAndReconfigure(t *testing.T) {
	server, _, commands := newTestServer("")
	server.chargePointConnected("CP1")

	require.NoError(t, server.SetChargerEnabled(false))
	require.NoError(t, server.SetChargerEnabled(true))
	require.NoError(t, server.Reconfigure())

	assert.Equal(t, []core.AvailabilityType{core.AvailabilityTypeInoperative, core.AvailabilityTypeOperative}, commands.availability)
	assert.Equal(t, "32", commands.config["MaxCurrentOffered"])
}

func TestServer_IgnoresUnknownChargePoint(t *testing.T) {
	server, _, _ := newTestServer("CP1")
	server.chargePointConnected("OTHER")

	assert.Empty(t, server.GetChargePoints())

	var received []models.ChargerStatus
	server.SetStatusCallback(func(s models.ChargerStatus) { received = append(received, s) })
	_, err := server.OnStatusNotification("OTHER", core.NewStatusNotificationRequest(1, core.NoError, core.ChargePointStatusCharging))
	require.NoError(t, err)
	assert.Empty(t, received)
}

func TestServer_DisconnectClearsTarget(t *testing.T) {
	server, _, _ := newTestServer("")
	server.chargePointConnected("CP1")
	server.chargePointDisconnected("CP1")

	assert.ErrorIs(t, server.SetMaxCurrent(10), ErrNotConnected)
}

func TestServer_GetStatus(t *testing.T) {
	server, _, _ := newTestServer("")
	assert.Equal(t, false, server.GetStatus()["connected"])

	server.chargePointConnected("CP2")
	server.chargePointConnected("CP1")

	status := server.GetStatus()
	assert.Equal(t, []string{"CP1", "CP2"}, status["charge_points"])
	assert.Equal(t, true, status["connected"])
	assert.Contains(t, []string{"CP1", "CP2"}, status["target"])
}

func TestServer_StatusNotification(t *testing.T) {
	server, _, _ := newTestServer("")

	var received []models.ChargerStatus
	server.SetStatusCallback(func(s models.ChargerStatus) { received = append(received, s) })

	_, err := server.OnStatusNotification("CP1", core.NewStatusNotificationRequest(1, core.NoError, core.ChargePointStatusCharging))
	require.NoError(t, err)
	_, err = server.OnStatusNotification("CP1", core.NewStatusNotificationRequest(0, core.NoError, core.ChargePointStatusAvailable))
	require.NoError(t, err)
	_, err = server.OnStatusNotification("CP1", core.NewStatusNotificationRequest(1, core.NoError, core.ChargePointStatusSuspendedEV))
	require.NoError(t, err)

	assert.Equal(t, []models.ChargerStatus{models.StatusCharging, models.ChargerStatus("SuspendedEV")}, received)
}

func TestServer_MeterValues(t *testing.T) {
	server, store, _ := newTestServer("")

	request := core.NewMeterValuesRequest(1, []types.MeterValue{{
		SampledValue: []types.SampledValue{
			{Value: "15.8", Measurand: types.MeasurandCurrentImport, Phase: types.PhaseL1},
			{Value: "9.0", Measurand: types.MeasurandCurrentImport, Phase: types.PhaseL2},
			{Value: "16", Measurand: types.MeasurandCurrentOffered},
			{Value: "229.5", Measurand: types.MeasurandVoltage, Phase: types.PhaseL1},
			{Value: "12345", Measurand: types.MeasurandEnergyActiveImportRegister},
			{Value: "bad", Measurand: types.MeasurandCurrentOffered},
		},
	}})

	_, err := server.OnMeterValues("CP1", request)
	require.NoError(t, err)

	readings := store.Snapshot()
	assert.Equal(t, 15.8, models.Value(readings.CurrentImport))
	assert.Equal(t, 16.0, models.Value(readings.CurrentOffered))
	assert.Equal(t, 229.5, models.Value(readings.Voltage))
}

func TestServer_BootNotificationAccepted(t *testing.T) {
	server, _, _ := newTestServer("")

	confirmation, err := server.OnBootNotification("CP1", core.NewBootNotificationRequest("Wallbox", "Vendor"))
	require.NoError(t, err)
	assert.Equal(t, core.RegistrationStatusAccepted, confirmation.Status)
	assert.Equal(t, heartbeatInterval, confirmation.Interval)
}
