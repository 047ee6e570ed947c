package models

import "time"

type OTPRecord struct {
	Email     string    `json:"email" dynamodbav:"Email"`
	CodeHash  string    `json:"code_hash" dynamodbav:"CodeHash"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"CreatedAt"`
	ExpiresAt time.Time `json:"expires_at" dynamodbav:"ExpiresAt"`
	// Attempts counts wrong codes submitted against this record.
	Attempts int `json:"attempts" dynamodbav:"Attempts"`
}
