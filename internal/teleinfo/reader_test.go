package teleinfo

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"charge-controller/internal/config"
	"charge-controller/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReader() (*Reader, *models.ReadingStore) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	store := models.NewReadingStore(true, true)
	return NewReader(&config.Config{}, logger, store), store
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected Dataset
	}{
		{"standard", "SINSTS\t03120\tL", Dataset{Label: "SINSTS", Value: "03120"}},
		{"standard with timestamp", "SINSTS\tE231017120000\t04600\t/", Dataset{Label: "SINSTS", Timestamp: "E231017120000", Value: "04600"}},
		{"historic", "PAPP 01250 )", Dataset{Label: "PAPP", Value: "01250"}},
		{"frame markers", "\x02URMS1\t231\t@\r", Dataset{Label: "URMS1", Value: "231"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dataset, err := ParseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, dataset)
		})
	}
}

func TestParseLine_Errors(t *testing.T) {
	_, err := ParseLine("")
	assert.ErrorIs(t, err, ErrShortLine)

	_, err = ParseLine("SINSTS\t03120\tX")
	assert.ErrorIs(t, err, ErrChecksum)

	_, err = ParseLine("SINSTS03120L")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReader_ConsumeUpdatesStore(t *testing.T) {
	reader, store := newTestReader()

	frame := strings.Join([]string{
		"\x02ADSC\t041234567890\t>",
		"URMS1\t231\t@",
		"SINSTS\t03120\tL",
		"SINSTS\t03120\tZ",
		"SINSTI\t00450\tE\x03",
	}, "\r\n")

	require.NoError(t, reader.Consume(strings.NewReader(frame)))

	readings := store.Snapshot()
	assert.InDelta(t, 3.12, models.Value(readings.Consumption), 1e-9)
	assert.InDelta(t, 0.45, models.Value(readings.Injection), 1e-9)
	assert.Equal(t, 231.0, models.Value(readings.Voltage))

	status := reader.GetStatus()
	assert.Equal(t, int64(3), status["datasets"])
	assert.Equal(t, int64(1), status["errors"])
}

func TestReader_HistoricModeHasNoInjection(t *testing.T) {
	reader, store := newTestReader()
	store.Update(func(r *models.Readings) { r.Injection = models.Float(2) })

	require.NoError(t, reader.Consume(strings.NewReader("PAPP 01250 )\n")))

	readings := store.Snapshot()
	assert.InDelta(t, 1.25, models.Value(readings.Consumption), 1e-9)
	assert.Equal(t, 0.0, models.Value(readings.Injection))
}

func TestReader_WatchdogClearsPower(t *testing.T) {
	reader, store := newTestReader()
	store.Update(func(r *models.Readings) {
		r.Consumption = models.Float(1)
		r.Injection = models.Float(0)
	})

	reader.watchdogFired()

	readings := store.Snapshot()
	assert.Nil(t, readings.Consumption)
	assert.Nil(t, readings.Injection)
}

func TestReader_VoltageDoesNotFeedWatchdog(t *testing.T) {
	reader, store := newTestReader()
	clk := clock.NewMock()
	reader.SetClock(clk)

	src, sink := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- reader.Consume(src) }()

	voltage := func(v float64) func() bool {
		return func() bool { return models.Value(store.Snapshot().Voltage) == v }
	}

	_, err := io.WriteString(sink, "SINSTS\t03120\tL\r\nURMS1\t231\t@\r\n")
	require.NoError(t, err)
	require.Eventually(t, voltage(231), time.Second, 5*time.Millisecond)
	require.NotNil(t, store.Snapshot().Consumption)

	// la tension continue d'arriver, pas la puissance
	clk.Add(30 * time.Second)
	_, err = io.WriteString(sink, "URMS1\t232\tA\r\nURMS1\t233\tB\r\n")
	require.NoError(t, err)
	require.Eventually(t, voltage(233), time.Second, 5*time.Millisecond)

	clk.Add(30 * time.Second)
	assert.Eventually(t, func() bool {
		return store.Snapshot().Consumption == nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 233.0, models.Value(store.Snapshot().Voltage))

	require.NoError(t, sink.Close())
	assert.NoError(t, <-done)
}

func TestIsPowerLabel(t *testing.T) {
	assert.True(t, isPowerLabel("SINSTS"))
	assert.True(t, isPowerLabel("SINSTI"))
	assert.True(t, isPowerLabel("PAPP"))
	assert.False(t, isPowerLabel("URMS1"))
	assert.False(t, isPowerLabel("ADSC"))
}

func TestReader_RunFailsOnMissingPort(t *testing.T) {
	reader, _ := newTestReader()
	reader.config.Teleinfo = config.TeleinfoConfig{Port: "/nonexistent/ttyTIC", Baud: 9600}

	err := reader.Run(context.Background())
	assert.Error(t, err)
}

func TestReader_SuperviseStopsWithContext(t *testing.T) {
	reader, _ := newTestReader()
	reader.config.Teleinfo = config.TeleinfoConfig{Port: "/nonexistent/ttyTIC", Baud: 9600}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, reader.Supervise(ctx))
}
