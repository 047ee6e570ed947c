package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/idgate/idgate/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const maxTxRetries = 5

type RedisOTPStore struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisOTPStore(client *redis.Client, logger *logrus.Logger) *RedisOTPStore {
	return &RedisOTPStore{
		client: client,
		logger: logger,
	}
}

func otpKey(email string) string {
	return fmt.Sprintf("otp:%s", email)
}

// Store writes the record with a TTL matching its expiry. SET replaces any
// earlier code for the same email.
func (s *RedisOTPStore) Store(ctx context.Context, record models.OTPRecord) error {
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return s.Delete(ctx, record.Email)
	}

	dataJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP data: %w", err)
	}

	if err := s.client.Set(ctx, otpKey(record.Email), dataJSON, ttl).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to store OTP in Redis")
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	return nil
}

func (s *RedisOTPStore) Get(ctx context.Context, email string) (*models.OTPRecord, error) {
	dataJSON, err := s.client.Get(ctx, otpKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to get OTP from Redis")
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	var record models.OTPRecord
	if err := json.Unmarshal([]byte(dataJSON), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}

	return &record, nil
}

// RecordFailure bumps Attempts under WATCH so concurrent failures and a
// concurrent Store are never lost. The key keeps its remaining TTL.
func (s *RedisOTPStore) RecordFailure(ctx context.Context, email, codeHash string) (int, error) {
	key := otpKey(email)

	for i := 0; i < maxTxRetries; i++ {
		attempts := 0
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			dataJSON, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}

			var record models.OTPRecord
			if err := json.Unmarshal(dataJSON, &record); err != nil {
				return fmt.Errorf("failed to unmarshal OTP data: %w", err)
			}
			if record.CodeHash != codeHash {
				return nil
			}

			record.Attempts++
			updated, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("failed to marshal OTP data: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, redis.KeepTTL)
				return nil
			})
			if err == nil {
				attempts = record.Attempts
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			s.logger.WithError(err).Error("Failed to record OTP failure in Redis")
			return 0, fmt.Errorf("failed to record OTP failure: %w", err)
		}
		return attempts, nil
	}

	return 0, fmt.Errorf("failed to record OTP failure: too much contention on %s", key)
}

func (s *RedisOTPStore) Delete(ctx context.Context, email string) error {
	if err := s.client.Del(ctx, otpKey(email)).Err(); err != nil {
		return fmt.Errorf("failed to delete OTP: %w", err)
	}
	return nil
}
