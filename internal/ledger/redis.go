package ledger

import (
	"context"
	"log"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	keyBalancePrefix = "crash:balance:"
	keyBankPrefix    = "crash:bank:"
)

// debitScript debits atomically: it refuses the decrement if the current
// balance is below the requested amount, so two concurrent debits can
// never drive a balance negative.
var debitScript = redis.NewScript(`
local bal = tonumber(redis.call('GET', KEYS[1]) or '0')
local amt = tonumber(ARGV[1])
if bal < amt then
  return redis.error_reply('INSUFFICIENT')
end
local new = bal - amt
redis.call('SET', KEYS[1], tostring(new))
return tostring(new)
`)

// RedisBalanceLedger keeps user balances in Redis, one key per user+mode.
type RedisBalanceLedger struct {
	client *redis.Client
}

func NewRedisBalanceLedger(client *redis.Client) *RedisBalanceLedger {
	return &RedisBalanceLedger{client: client}
}

func balanceKey(userID, mode string) string {
	return keyBalancePrefix + mode + ":" + userID
}

func (l *RedisBalanceLedger) GetBalance(ctx context.Context, userID, mode string) (float64, error) {
	bal, err := l.client.Get(ctx, balanceKey(userID, mode)).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	return bal, err
}

func (l *RedisBalanceLedger) AdjustBalance(ctx context.Context, userID, mode string, delta float64) (float64, error) {
	key := balanceKey(userID, mode)
	if delta < 0 {
		res, err := debitScript.Run(ctx, l.client, []string{key}, -delta).Text()
		if err != nil {
			if strings.Contains(err.Error(), "INSUFFICIENT") {
				return 0, ErrInsufficientFunds
			}
			return 0, err
		}
		return strconv.ParseFloat(res, 64)
	}
	return l.client.IncrByFloat(ctx, key, delta).Result()
}

// SetBalance overwrites a balance directly. Admin/testing surface only.
func (l *RedisBalanceLedger) SetBalance(ctx context.Context, userID, mode string, amount float64) error {
	return l.client.Set(ctx, balanceKey(userID, mode), amount, 0).Err()
}

// RedisBankLedger keeps the casino reserves in Redis, one key per mode.
// The bank may legitimately go negative during a hot streak; the generator
// reads it each round and reacts by starving payouts.
type RedisBankLedger struct {
	client *redis.Client
}

func NewRedisBankLedger(client *redis.Client) *RedisBankLedger {
	return &RedisBankLedger{client: client}
}

func (l *RedisBankLedger) GetBankBalance(ctx context.Context, mode string) (float64, error) {
	bal, err := l.client.Get(ctx, keyBankPrefix+mode).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	return bal, err
}

func (l *RedisBankLedger) AdjustBankBalance(ctx context.Context, mode string, delta float64) (float64, error) {
	newBal, err := l.client.IncrByFloat(ctx, keyBankPrefix+mode, delta).Result()
	if err != nil {
		log.Printf("[LEDGER] Bank adjust failed for mode %s: %v", mode, err)
		return 0, err
	}
	return newBal, nil
}

// SetBankBalance overwrites a bank balance directly. Admin/testing surface only.
func (l *RedisBankLedger) SetBankBalance(ctx context.Context, mode string, amount float64) error {
	return l.client.Set(ctx, keyBankPrefix+mode, amount, 0).Err()
}
