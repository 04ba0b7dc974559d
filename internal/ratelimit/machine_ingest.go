package ratelimit

import (
	"context"
	"fmt"

	"github.com/diewerk/toolledger/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyMachineIngest = "ingest:machine:%d"

// MachineIngestLimiter throttles telemetry per source machine. Rates come
// from the hot-reloadable tuning config, so a runaway machine can be slowed
// down without a redeploy. Nil (redis disabled) means no limiting.
type MachineIngestLimiter struct {
	bucket *TokenBucket
	tuning *config.TuningHolder
}

func NewMachineIngestLimiter(client *redis.Client, tuning *config.TuningHolder) *MachineIngestLimiter {
	if client == nil {
		return nil
	}
	return &MachineIngestLimiter{
		bucket: NewTokenBucket(client),
		tuning: tuning,
	}
}

func (l *MachineIngestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowMachine consumes one token from the machine's bucket.
func (l *MachineIngestLimiter) AllowMachine(ctx context.Context, machineID int64) (AllowResult, error) {
	if !l.Enabled() {
		return AllowResult{Allowed: true}, nil
	}
	ingest := l.tuning.Get().Ingest
	rate := float64(ingest.MachinePerMinute) / 60.0
	return l.bucket.Allow(ctx, fmt.Sprintf(keyMachineIngest, machineID), rate, ingest.Burst)
}
