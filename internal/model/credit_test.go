package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransactionKind_Valid(t *testing.T) {
	for _, k := range []TransactionKind{TxUsage, TxFreeUsage, TxPurchase, TxGrant, TxRefund} {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, TransactionKind("bonus").Valid())
	assert.False(t, TransactionKind("").Valid())
}

func TestPendingSettlement_CanRetry(t *testing.T) {
	p := &PendingSettlement{RetryCount: 2, MaxRetries: 3}
	assert.True(t, p.CanRetry())
	p.RetryCount = 3
	assert.False(t, p.CanRetry())
}
