package teleinfo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"charge-controller/internal/config"
	"charge-controller/internal/models"

	"github.com/avast/retry-go"
	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// WatchdogTimeout : sans trame valide pendant ce délai les puissances sont effacées.
const WatchdogTimeout = 1 * time.Minute

const (
	reopenAttempts = 20
	reopenDelay    = 5 * time.Second
	reopenMaxDelay = 2 * time.Minute
)

const (
	labelImportVA   = "SINSTS" // puissance apparente soutirée (mode standard)
	labelExportVA   = "SINSTI" // puissance apparente injectée (mode standard, producteur)
	labelVoltage    = "URMS1"
	labelHistoricVA = "PAPP" // mode historique
)

var (
	ErrShortLine  = errors.New("line too short")
	ErrChecksum   = errors.New("checksum mismatch")
	ErrMalformed  = errors.New("malformed dataset")
	ErrPortClosed = errors.New("teleinfo port closed")
)

// Dataset est une ligne d'une trame TIC.
type Dataset struct {
	Label     string
	Timestamp string
	Value     string
}

// ParseLine décode un groupe d'information, en mode standard (séparateur
// tabulation, horodate optionnelle) ou historique (séparateur espace).
func ParseLine(line string) (Dataset, error) {
	line = strings.Trim(line, "\x02\x03\r\n")
	if len(line) < 3 {
		return Dataset{}, ErrShortLine
	}

	checksum := line[len(line)-1]
	body := line[:len(line)-1]
	separator := body[len(body)-1]
	if separator != '\t' && separator != ' ' {
		return Dataset{}, ErrMalformed
	}

	// mode standard : le dernier séparateur entre dans la somme, pas en historique
	if checksum != sum(body) && checksum != sum(body[:len(body)-1]) {
		return Dataset{}, fmt.Errorf("%w on %q", ErrChecksum, body)
	}

	var fields []string
	if separator == '\t' {
		fields = strings.Split(body[:len(body)-1], "\t")
	} else {
		fields = strings.Fields(body)
	}

	switch len(fields) {
	case 2:
		return Dataset{Label: fields[0], Value: fields[1]}, nil
	case 3:
		return Dataset{Label: fields[0], Timestamp: fields[1], Value: fields[2]}, nil
	default:
		return Dataset{}, fmt.Errorf("%w: %q", ErrMalformed, body)
	}
}

func sum(s string) byte {
	var total int
	for i := 0; i < len(s); i++ {
		total += int(s[i])
	}
	return byte(total&0x3F) + 0x20
}

// Reader alimente le store avec les puissances lues sur la sortie TIC du
// compteur.
type Reader struct {
	config *config.Config
	logger *logrus.Logger
	store  *models.ReadingStore
	clock  clock.Clock

	mutex    sync.Mutex
	datasets int64
	errors   int64
	lastSeen time.Time
}

func NewReader(cfg *config.Config, logger *logrus.Logger, store *models.ReadingStore) *Reader {
	return &Reader{
		config: cfg,
		logger: logger,
		store:  store,
		clock:  clock.New(),
	}
}

// SetClock remplace la source de temps du watchdog. À appeler avant Consume.
func (r *Reader) SetClock(clk clock.Clock) {
	r.clock = clk
}

// Run ouvre le port série et lit jusqu'à l'annulation du contexte.
func (r *Reader) Run(ctx context.Context) error {
	c := &serial.Config{
		Name:     r.config.Teleinfo.Port,
		Baud:     r.config.Teleinfo.Baud,
		Size:     7,
		Parity:   serial.ParityEven,
		StopBits: serial.Stop1,
	}
	port, err := serial.OpenPort(c)
	if err != nil {
		return fmt.Errorf("failed to open teleinfo port %s: %w", c.Name, err)
	}

	r.logger.Infof("Reading teleinfo from %s at %d baud", c.Name, c.Baud)

	go func() {
		<-ctx.Done()
		port.Close()
	}()

	err = r.Consume(port)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Supervise relance Run tant que le contexte est actif, avec un délai croissant
// entre deux ouvertures du port.
func (r *Reader) Supervise(ctx context.Context) error {
	err := retry.Do(
		func() error {
			if err := r.Run(ctx); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			return ErrPortClosed
		},
		retry.Context(ctx),
		retry.Attempts(reopenAttempts),
		retry.Delay(reopenDelay),
		retry.MaxDelay(reopenMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warnf("Teleinfo reader stopped (attempt %d): %v", n+1, err)
		}),
	)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Consume lit les lignes de src jusqu'à EOF. Seules les puissances
// réarment le watchdog.
func (r *Reader) Consume(src io.Reader) error {
	watchdog := r.clock.AfterFunc(WatchdogTimeout, r.watchdogFired)
	defer watchdog.Stop()

	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		dataset, err := ParseLine(scanner.Text())
		if err != nil {
			if !errors.Is(err, ErrShortLine) {
				r.countError()
				r.logger.Debugf("Bad teleinfo dataset: %v", err)
			}
			continue
		}

		if r.apply(dataset) && isPowerLabel(dataset.Label) {
			watchdog.Reset(WatchdogTimeout)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("teleinfo read failed: %w", err)
	}
	return nil
}

// apply renvoie true si le dataset a mis à jour une mesure.
func (r *Reader) apply(dataset Dataset) bool {
	var update func(*models.Readings, float64)
	switch dataset.Label {
	case labelImportVA, labelHistoricVA:
		update = func(rd *models.Readings, v float64) { rd.Consumption = models.Float(v / 1000) }
	case labelExportVA:
		update = func(rd *models.Readings, v float64) { rd.Injection = models.Float(v / 1000) }
	case labelVoltage:
		update = func(rd *models.Readings, v float64) { rd.Voltage = models.Float(v) }
	default:
		return false
	}

	value, err := strconv.ParseFloat(dataset.Value, 64)
	if err != nil {
		r.countError()
		r.logger.Warnf("Invalid teleinfo %s value %q", dataset.Label, dataset.Value)
		return false
	}

	r.store.Update(func(rd *models.Readings) { update(rd, value) })

	r.mutex.Lock()
	r.datasets++
	r.lastSeen = r.clock.Now()
	r.mutex.Unlock()

	// en mode historique il n'y a pas d'index d'injection : on le remet à zéro
	if dataset.Label == labelHistoricVA {
		r.store.Update(func(rd *models.Readings) { rd.Injection = models.Float(0) })
	}
	return true
}

func isPowerLabel(label string) bool {
	switch label {
	case labelImportVA, labelExportVA, labelHistoricVA:
		return true
	}
	return false
}

func (r *Reader) watchdogFired() {
	r.logger.Errorf("No teleinfo power reading for %s, clearing grid power", WatchdogTimeout)
	r.store.Update(func(rd *models.Readings) {
		rd.Consumption = nil
		rd.Injection = nil
	})
}

func (r *Reader) countError() {
	r.mutex.Lock()
	r.errors++
	r.mutex.Unlock()
}

func (r *Reader) GetStatus() map[string]interface{} {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return map[string]interface{}{
		"datasets":  r.datasets,
		"errors":    r.errors,
		"last_seen": r.lastSeen,
	}
}
