package ocpp

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"charge-controller/internal/config"
	"charge-controller/internal/models"

	ocpp16 "github.com/lorenzodonini/ocpp-go/ocpp1.6"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/smartcharging"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/sirupsen/logrus"
)

var ErrNotConnected = errors.New("no charge point connected")

const (
	heartbeatInterval = 60 // s
	chargingProfileID = 1
)

// commandSender est le sous-ensemble du central system utilisé pour piloter
// la borne.
type commandSender interface {
	SetChargingProfile(clientId string, callback func(*smartcharging.SetChargingProfileConfirmation, error), connectorId int, chargingProfile *types.ChargingProfile, props ...func(request *smartcharging.SetChargingProfileRequest)) error
	ChangeAvailability(clientId string, callback func(*core.ChangeAvailabilityConfirmation, error), connectorId int, availabilityType core.AvailabilityType, props ...func(request *core.ChangeAvailabilityRequest)) error
	ChangeConfiguration(clientId string, callback func(*core.ChangeConfigurationConfirmation, error), key string, value string, props ...func(request *core.ChangeConfigurationRequest)) error
}

// Server est un central system OCPP 1.6J pour une seule borne.
type Server struct {
	central  ocpp16.CentralSystem
	commands commandSender
	config   *config.Config
	logger   *logrus.Logger
	store    *models.ReadingStore

	mutex        sync.RWMutex
	chargePoints map[string]time.Time

	onStatus func(status models.ChargerStatus)
}

func NewServer(cfg *config.Config, logger *logrus.Logger, store *models.ReadingStore) *Server {
	central := ocpp16.NewCentralSystem(nil, nil)
	s := newServer(cfg, logger, store, central)
	s.central = central

	central.SetCoreHandler(s)
	central.SetNewChargePointHandler(func(chargePoint ocpp16.ChargePointConnection) {
		s.chargePointConnected(chargePoint.ID())
	})
	central.SetChargePointDisconnectedHandler(func(chargePoint ocpp16.ChargePointConnection) {
		s.chargePointDisconnected(chargePoint.ID())
	})

	return s
}

func newServer(cfg *config.Config, logger *logrus.Logger, store *models.ReadingStore, commands commandSender) *Server {
	return &Server{
		commands:     commands,
		config:       cfg,
		logger:       logger,
		store:        store,
		chargePoints: make(map[string]time.Time),
	}
}

func (s *Server) SetStatusCallback(onStatus func(models.ChargerStatus)) {
	s.onStatus = onStatus
}

// Start bloque jusqu'à l'arrêt du serveur.
func (s *Server) Start() {
	s.logger.Infof("Starting OCPP central system on :%d%s", s.config.OCPP.Port, s.config.OCPP.Path)
	s.central.Start(s.config.OCPP.Port, s.config.OCPP.Path)
}

func (s *Server) Stop() {
	if s.central != nil {
		s.logger.Info("Stopping OCPP central system")
		s.central.Stop()
	}
}

func (s *Server) accepts(chargePointID string) bool {
	return s.config.OCPP.ChargePointID == "" || s.config.OCPP.ChargePointID == chargePointID
}

func (s *Server) chargePointConnected(id string) {
	if !s.accepts(id) {
		s.logger.Warnf("Unknown charge point connected: %s", id)
		return
	}

	s.mutex.Lock()
	s.chargePoints[id] = time.Now()
	s.mutex.Unlock()

	s.logger.Infof("Charge point %s connected", id)
}

func (s *Server) chargePointDisconnected(id string) {
	s.mutex.Lock()
	delete(s.chargePoints, id)
	s.mutex.Unlock()

	s.logger.Infof("Charge point %s disconnected", id)
}

// target renvoie la borne pilotée : celle configurée, sinon la dernière connectée.
func (s *Server) target() (string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var id string
	var latest time.Time
	for cp, connectedAt := range s.chargePoints {
		if connectedAt.After(latest) {
			id, latest = cp, connectedAt
		}
	}

	if id == "" {
		return "", ErrNotConnected
	}
	return id, nil
}

func (s *Server) GetChargePoints() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ids := make([]string, 0, len(s.chargePoints))
	for id := range s.chargePoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Server) GetStatus() map[string]interface{} {
	target, err := s.target()

	return map[string]interface{}{
		"charge_points": s.GetChargePoints(),
		"target":        target,
		"connected":     err == nil,
	}
}

// Handlers core.CentralSystemHandler

func (s *Server) OnAuthorize(chargePointId string, request *core.AuthorizeRequest) (*core.AuthorizeConfirmation, error) {
	s.logger.Debugf("Authorize from %s: %s", chargePointId, request.IdTag)
	return core.NewAuthorizationConfirmation(types.NewIdTagInfo(types.AuthorizationStatusAccepted)), nil
}

func (s *Server) OnBootNotification(chargePointId string, request *core.BootNotificationRequest) (*core.BootNotificationConfirmation, error) {
	s.logger.Infof("Boot notification from %s: %s %s", chargePointId, request.ChargePointVendor, request.ChargePointModel)
	return core.NewBootNotificationConfirmation(types.NewDateTime(time.Now()), heartbeatInterval, core.RegistrationStatusAccepted), nil
}

func (s *Server) OnDataTransfer(chargePointId string, request *core.DataTransferRequest) (*core.DataTransferConfirmation, error) {
	s.logger.Debugf("Data transfer from %s: vendor %s", chargePointId, request.VendorId)
	return core.NewDataTransferConfirmation(core.DataTransferStatusRejected), nil
}

func (s *Server) OnHeartbeat(chargePointId string, request *core.HeartbeatRequest) (*core.HeartbeatConfirmation, error) {
	return core.NewHeartbeatConfirmation(types.NewDateTime(time.Now())), nil
}

func (s *Server) OnMeterValues(chargePointId string, request *core.MeterValuesRequest) (*core.MeterValuesConfirmation, error) {
	if !s.accepts(chargePointId) || request.ConnectorId != s.config.OCPP.ConnectorID {
		return core.NewMeterValuesConfirmation(), nil
	}

	for _, meterValue := range request.MeterValue {
		for _, sample := range meterValue.SampledValue {
			s.applySample(sample)
		}
	}

	return core.NewMeterValuesConfirmation(), nil
}

// applySample ne garde que les mesures globales ou la phase L1.
func (s *Server) applySample(sample types.SampledValue) {
	if sample.Phase != "" && sample.Phase != types.PhaseL1 {
		return
	}

	value, err := strconv.ParseFloat(sample.Value, 64)
	if err != nil {
		s.logger.Warnf("Invalid %s sample %q: %v", sample.Measurand, sample.Value, err)
		return
	}

	switch sample.Measurand {
	case types.MeasurandCurrentImport:
		s.store.Update(func(r *models.Readings) { r.CurrentImport = models.Float(value) })
	case types.MeasurandCurrentOffered:
		s.store.Update(func(r *models.Readings) { r.CurrentOffered = models.Float(value) })
	case types.MeasurandVoltage:
		s.store.Update(func(r *models.Readings) { r.Voltage = models.Float(value) })
	default:
		return
	}
	s.logger.Debugf("OCPP %s = %.2f", sample.Measurand, value)
}

func (s *Server) OnStatusNotification(chargePointId string, request *core.StatusNotificationRequest) (*core.StatusNotificationConfirmation, error) {
	if !s.accepts(chargePointId) || request.ConnectorId != s.config.OCPP.ConnectorID {
		return core.NewStatusNotificationConfirmation(), nil
	}

	status := models.ParseChargerStatus(string(request.Status))
	s.logger.Infof("Status notification from %s connector %d: %s", chargePointId, request.ConnectorId, status)

	if s.onStatus != nil {
		s.onStatus(status)
	}

	return core.NewStatusNotificationConfirmation(), nil
}

func (s *Server) OnStartTransaction(chargePointId string, request *core.StartTransactionRequest) (*core.StartTransactionConfirmation, error) {
	transactionID := int(time.Now().Unix())
	s.logger.Infof("Transaction %d started on %s connector %d", transactionID, chargePointId, request.ConnectorId)
	return core.NewStartTransactionConfirmation(types.NewIdTagInfo(types.AuthorizationStatusAccepted), transactionID), nil
}

func (s *Server) OnStopTransaction(chargePointId string, request *core.StopTransactionRequest) (*core.StopTransactionConfirmation, error) {
	s.logger.Infof("Transaction %d stopped on %s", request.TransactionId, chargePointId)
	return core.NewStopTransactionConfirmation(), nil
}

// Actuator

func (s *Server) SetMaxCurrent(current float64) error {
	id, err := s.target()
	if err != nil {
		return err
	}

	schedule := types.NewChargingSchedule(types.ChargingRateUnitAmperes, types.NewChargingSchedulePeriod(0, current))
	profile := types.NewChargingProfile(chargingProfileID, 0, types.ChargingProfilePurposeTxDefaultProfile, types.ChargingProfileKindRelative, schedule)

	err = s.commands.SetChargingProfile(id, func(confirmation *smartcharging.SetChargingProfileConfirmation, err error) {
		if err != nil {
			s.logger.Errorf("SetChargingProfile on %s failed: %v", id, err)
			return
		}
		if confirmation.Status != smartcharging.ChargingProfileStatusAccepted {
			s.logger.Warnf("SetChargingProfile %.0fA on %s: %s", current, id, confirmation.Status)
		}
	}, s.config.OCPP.ConnectorID, profile)
	if err != nil {
		return fmt.Errorf("failed to send charging profile: %w", err)
	}
	return nil
}

func (s *Server) SetChargerEnabled(enabled bool) error {
	id, err := s.target()
	if err != nil {
		return err
	}

	availability := core.AvailabilityTypeInoperative
	if enabled {
		availability = core.AvailabilityTypeOperative
	}

	err = s.commands.ChangeAvailability(id, func(confirmation *core.ChangeAvailabilityConfirmation, err error) {
		if err != nil {
			s.logger.Errorf("ChangeAvailability on %s failed: %v", id, err)
			return
		}
		s.logger.Infof("ChangeAvailability %s on %s: %s", availability, id, confirmation.Status)
	}, s.config.OCPP.ConnectorID, availability)
	if err != nil {
		return fmt.Errorf("failed to change availability: %w", err)
	}
	return nil
}

func (s *Server) Reconfigure() error {
	id, err := s.target()
	if err != nil {
		return err
	}

	key, value := s.config.OCPP.ReconfigureKey, s.config.OCPP.ReconfigureValue
	err = s.commands.ChangeConfiguration(id, func(confirmation *core.ChangeConfigurationConfirmation, err error) {
		if err != nil {
			s.logger.Errorf("ChangeConfiguration on %s failed: %v", id, err)
			return
		}
		s.logger.Infof("ChangeConfiguration %s=%s on %s: %s", key, value, id, confirmation.Status)
	}, key, value)
	if err != nil {
		return fmt.Errorf("failed to change configuration: %w", err)
	}
	return nil
}

// Pas d'équivalent OCPP pour les valeurs suivantes, elles restent sur MQTT.

func (s *Server) SetOfferedPower(power float64) error { return nil }

func (s *Server) SetActualPower(power float64) error { return nil }

func (s *Server) ResetStaticPower() error { return nil }
