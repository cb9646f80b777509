package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// GenerateOrderNumber produces an order reference for invoices,
// e.g. ORD-1735689600-048213.
func GenerateOrderNumber() string {
	timestamp := time.Now().Unix()
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(999999))
	return fmt.Sprintf("ORD-%d-%06d", timestamp, randomNum.Int64())
}
