package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/xivmarket/internal/model"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// ago builds a price submitted d before testNow.
func ago(d time.Duration, value int64) model.Price {
	return model.Price{Timestamp: testNow.Add(-d), Value: value}
}

func TestRollingAverage_Empty(t *testing.T) {
	_, ok := RollingAverage(nil, testNow)
	assert.False(t, ok)
}

func TestRollingAverage_NoDataInWindow(t *testing.T) {
	prices := []model.Price{
		ago(1*time.Hour, 100),
		ago(11*time.Hour, 110),
		ago(40*time.Hour, 90),
	}
	_, ok := RollingAverage(prices, testNow)
	assert.False(t, ok)
}

func TestRollingAverage_SingleBucketMidpoint(t *testing.T) {
	prices := []model.Price{
		ago(13*time.Hour, 10),
		ago(14*time.Hour, 20),
	}
	avg, ok := RollingAverage(prices, testNow)
	require.True(t, ok)
	assert.Equal(t, int64(15), avg)
}

func TestRollingAverage_MeanOfBuckets(t *testing.T) {
	prices := []model.Price{
		ago(2*time.Hour, 1000), // too recent
		ago(13*time.Hour, 10),
		ago(14*time.Hour, 20),
		ago(30*time.Hour, 40),
	}
	avg, ok := RollingAverage(prices, testNow)
	require.True(t, ok)
	// (15 + 40) / 2 = 27.5, truncated.
	assert.Equal(t, int64(27), avg)
}

func TestRollingAverage_IgnoresNoSupply(t *testing.T) {
	prices := []model.Price{
		ago(13*time.Hour, 0),
		ago(20*time.Hour, 0),
	}
	_, ok := RollingAverage(prices, testNow)
	assert.False(t, ok)

	prices = append(prices, ago(21*time.Hour, 50))
	avg, ok := RollingAverage(prices, testNow)
	require.True(t, ok)
	assert.Equal(t, int64(50), avg)
}

func TestRollingAverage_WindowBoundaries(t *testing.T) {
	avg, ok := RollingAverage([]model.Price{ago(12*time.Hour, 70)}, testNow)
	require.True(t, ok, "12h old is inside the window")
	assert.Equal(t, int64(70), avg)

	_, ok = RollingAverage([]model.Price{ago(36*time.Hour, 70)}, testNow)
	assert.False(t, ok, "36h old is outside the window")

	avg, ok = RollingAverage([]model.Price{ago(36*time.Hour-time.Second, 80)}, testNow)
	require.True(t, ok)
	assert.Equal(t, int64(80), avg)
}

func TestAverageWindow(t *testing.T) {
	from, to := AverageWindow(testNow)
	assert.Equal(t, testNow.Add(-36*time.Hour), from)
	assert.Equal(t, testNow.Add(-12*time.Hour), to)
}

func TestComputeExtremes_NestedWindows(t *testing.T) {
	prices := []model.Price{
		ago(1*time.Hour, 50),
		ago(2*time.Hour, 30),
		ago(3*time.Hour, 70),
		ago(3*Day, 10),
		ago(10*Day, 90),
		ago(27*Day, 5),
		ago(29*Day, 1), // beyond the month, ends the scan
		ago(2*time.Hour, 1000),
	}
	ex := ComputeExtremes(prices, testNow)

	require.NotNil(t, ex.Day.Low)
	assert.Equal(t, int64(30), ex.Day.Low.Value)
	assert.Equal(t, int64(70), ex.Day.High.Value)
	assert.Equal(t, int64(10), ex.Week.Low.Value)
	assert.Equal(t, int64(70), ex.Week.High.Value)
	assert.Equal(t, int64(5), ex.Month.Low.Value)
	assert.Equal(t, int64(90), ex.Month.High.Value)
}

func TestComputeExtremes_FirstExtremeWinsTies(t *testing.T) {
	first := ago(1*time.Hour, 30)
	second := ago(2*time.Hour, 30)
	ex := ComputeExtremes([]model.Price{first, second}, testNow)

	require.NotNil(t, ex.Day.Low)
	assert.Equal(t, first.Timestamp, ex.Day.Low.Timestamp)
	assert.Equal(t, first.Timestamp, ex.Day.High.Timestamp)
}

func TestComputeExtremes_Empty(t *testing.T) {
	ex := ComputeExtremes(nil, testNow)
	assert.Nil(t, ex.Day.Low)
	assert.Nil(t, ex.Month.High)
}

func TestComputeExtremes_CutoffInclusive(t *testing.T) {
	ex := ComputeExtremes([]model.Price{ago(Day, 40)}, testNow)
	require.NotNil(t, ex.Day.Low)
	assert.Equal(t, int64(40), ex.Day.Low.Value)
}
