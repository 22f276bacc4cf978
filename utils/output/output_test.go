package output_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/config"
	"github.com/tsinghua-fib-lab/aim-sim-oss/utils/output"
)

func TestRecorderWithoutDatabase(t *testing.T) {
	r := output.New(config.Output{})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Record(output.Event{T: 1, Vehicle: int32(i), Kind: output.KindRequest})
		}(i)
	}
	wg.Wait()
	require.NoError(t, r.Flush(context.Background()))
	assert.Equal(t, 10, r.Total())
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 10, r.Total())
}

func TestEventString(t *testing.T) {
	e := output.Event{T: 1.5, Vehicle: 3, Kind: output.KindConfirm, ReservationID: 7}
	assert.Contains(t, e.String(), "vehicle=3 confirm reservation=7")
}
