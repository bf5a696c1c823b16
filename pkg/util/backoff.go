package util

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

const (
	paramRetryInterval = "retry_interval"
	paramRetryMaxCount = "retry_max_count"
	paramRetryMaxTime  = "retry_max_time"
	paramRetryPolicy   = "retry_policy"

	defaultRetryInterval = 1 * time.Second
	defaultRetryMaxTime  = 15 * time.Second

	policyConstant    = "constant"
	policyDisabled    = "disabled"
	policyExponential = "exponential"
)

// BackoffFactory returns a fresh backoff for every send.
type BackoffFactory func() backoff.BackOff

// RetryPolicy controls how an HTTP backend retries a failed request within one send.
// Metrics are never kept for a later send, so the policy only bounds a single call.
type RetryPolicy struct {
	Policy   string        // disabled, constant or exponential
	Interval time.Duration // delay before the first retry; constant for the constant policy
	MaxCount uint64        // 0 means no limit other than MaxTime
	MaxTime  time.Duration // total time spent retrying one request
}

// Validate reports every invalid field of the policy. Keys are named with prefix.
func (p RetryPolicy) Validate(prefix string) error {
	var errs error
	switch p.Policy {
	case policyDisabled, policyConstant, policyExponential:
	default:
		errs = multierr.Append(errs, fmt.Errorf("%s%s (%s) not one of %s, %s, or %s",
			prefix, paramRetryPolicy, p.Policy, policyDisabled, policyConstant, policyExponential))
	}
	if p.Interval <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("%s%s must be positive", prefix, paramRetryInterval))
	}
	if p.MaxTime <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("%s%s must be positive", prefix, paramRetryMaxTime))
	}
	return errs
}

// Factory builds backoffs for the policy. ExponentialBackOff with a multiplier of 1 stands in for
// a constant interval so both policies get jitter and the MaxTime bound.
func (p RetryPolicy) Factory() BackoffFactory {
	multiplier := 1.0
	switch p.Policy {
	case policyDisabled:
		return func() backoff.BackOff { return &backoff.StopBackOff{} }
	case policyExponential:
		multiplier = backoff.DefaultMultiplier
	}
	return func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.Multiplier = multiplier
		bo.MaxElapsedTime = p.MaxTime
		bo.InitialInterval = p.Interval
		bo.Reset() // applies InitialInterval
		if p.MaxCount == 0 {
			return bo
		}
		return backoff.WithMaxRetries(bo, p.MaxCount)
	}
}

// GetRetryFromViper reads <prefix>retry_policy, <prefix>retry_interval, <prefix>retry_max_count
// and <prefix>retry_max_time. Retries are disabled unless a policy is configured.
func GetRetryFromViper(v *viper.Viper, prefix string) (BackoffFactory, error) {
	v.SetDefault(prefix+paramRetryPolicy, policyDisabled)
	v.SetDefault(prefix+paramRetryInterval, defaultRetryInterval)
	v.SetDefault(prefix+paramRetryMaxCount, 0)
	v.SetDefault(prefix+paramRetryMaxTime, defaultRetryMaxTime)

	maxCount := v.GetInt64(prefix + paramRetryMaxCount)
	if maxCount < 0 {
		return nil, fmt.Errorf("%s%s must be zero or positive", prefix, paramRetryMaxCount)
	}
	p := RetryPolicy{
		Policy:   v.GetString(prefix + paramRetryPolicy),
		Interval: v.GetDuration(prefix + paramRetryInterval),
		MaxCount: uint64(maxCount),
		MaxTime:  v.GetDuration(prefix + paramRetryMaxTime),
	}
	if err := p.Validate(prefix); err != nil {
		return nil, err
	}
	return p.Factory(), nil
}
