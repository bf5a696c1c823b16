package util

import (
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

const testPrefix = "test_"

func newByViper(policy string, interval, maxTime time.Duration, maxCount int64) (BackoffFactory, error) {
	v := viper.New()
	v.Set(testPrefix+paramRetryInterval, interval)
	v.Set(testPrefix+paramRetryMaxCount, maxCount)
	v.Set(testPrefix+paramRetryMaxTime, maxTime)
	v.Set(testPrefix+paramRetryPolicy, policy)
	return GetRetryFromViper(v, testPrefix)
}

func TestRetriesDisabledByDefault(t *testing.T) {
	t.Parallel()
	f, err := GetRetryFromViper(viper.New(), testPrefix)
	require.NoError(t, err)
	require.Equal(t, backoff.Stop, f().NextBackOff())
}

func TestDisabledRetries(t *testing.T) {
	t.Parallel()
	f, err := newByViper(policyDisabled, 10*time.Second, 10*time.Second, 10)
	require.NoError(t, err)
	require.NotNil(t, f)

	bo := f()
	require.Equal(t, backoff.Stop, bo.NextBackOff())
}

func TestConstantInterval(t *testing.T) {
	t.Parallel()
	f, err := newByViper(policyConstant, 1*time.Second, 10*time.Second, 0)
	require.NoError(t, err)
	require.NotNil(t, f)

	bo := f()
	for i := 0; i < 10; i++ {
		// Ensure it doesn't start growing
		d := bo.NextBackOff()
		require.LessOrEqual(t, uint64(d), uint64(time.Second*2))
		require.GreaterOrEqual(t, uint64(d), uint64(time.Second/2))
	}
}

func TestConstantIntervalMaxCount(t *testing.T) {
	t.Parallel()
	f, err := newByViper(policyConstant, 1*time.Second, 10*time.Second, 10)
	require.NoError(t, err)
	require.NotNil(t, f)

	bo := f()
	for i := 0; i < 10; i++ {
		d := bo.NextBackOff()
		require.NotEqual(t, backoff.Stop, d)
	}
	d := bo.NextBackOff()
	require.Equal(t, backoff.Stop, d)
}

func TestExponentialIntervalMaxCount(t *testing.T) {
	t.Parallel()
	f, err := newByViper(policyExponential, 1*time.Second, 10*time.Second, 10)
	require.NoError(t, err)
	require.NotNil(t, f)

	bo := f()
	prevInterval := time.Duration(0)
	for i := 0; i < 10; i++ {
		// Ensure it grows.  We need the scaling factor to account for the randomization in the interval.
		d := bo.NextBackOff()
		require.GreaterOrEqual(t, uint64(d), uint64(prevInterval/2))
		prevInterval = d
	}
	d := bo.NextBackOff()
	require.Equal(t, backoff.Stop, d)
}

func TestInvalidConfigurations(t *testing.T) {
	t.Parallel()
	tests := []struct {
		interval time.Duration
		maxCount int64
		maxTime  time.Duration
		policy   string
		failure  string
	}{
		{-1 * time.Second, 0, 1 * time.Second, policyConstant, paramRetryInterval},
		{0, 0, 1 * time.Second, policyConstant, paramRetryInterval},
		{1 * time.Second, -1, 1 * time.Second, policyConstant, paramRetryMaxCount},
		{1 * time.Second, 0, -1 * time.Second, policyConstant, paramRetryMaxTime},
		{1 * time.Second, 0, 0, policyConstant, paramRetryMaxTime},
		{1 * time.Second, 1, 1 * time.Second, "invalid", paramRetryPolicy},
	}
	for i, test := range tests {
		test := test
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			f, err := newByViper(test.policy, test.interval, test.maxTime, test.maxCount)
			require.Nil(t, f)
			require.Error(t, err)
			require.Contains(t, err.Error(), testPrefix+test.failure)
		})
	}
}

func TestExponentialStartsAtInterval(t *testing.T) {
	t.Parallel()
	f := RetryPolicy{Policy: policyExponential, Interval: 4 * time.Second, MaxTime: time.Minute}.Factory()
	d := f().NextBackOff()
	require.GreaterOrEqual(t, uint64(d), uint64(2*time.Second))
	require.LessOrEqual(t, uint64(d), uint64(6*time.Second))
}

func TestValidateReportsEveryField(t *testing.T) {
	t.Parallel()
	err := RetryPolicy{Policy: "sometimes"}.Validate("librato_")
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 3)
	assert.Contains(t, err.Error(), "librato_retry_policy")
	assert.Contains(t, err.Error(), "librato_retry_interval")
	assert.Contains(t, err.Error(), "librato_retry_max_time")
}
