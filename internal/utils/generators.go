package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// GenerateSessionID produces a checkout session identifier.
func GenerateSessionID() string {
	timestamp := time.Now().Unix()
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(999999))
	return fmt.Sprintf("cs_%d_%06d", timestamp, randomNum.Int64())
}
