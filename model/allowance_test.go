package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowanceIsSufficientRequiresConfirmDate(t *testing.T) {
	a := &Allowance{Amount: "ample"}
	alwaysEnough := func(string) bool { return true }
	assert.False(t, a.IsSufficient(alwaysEnough), "unconfirmed allowance is never sufficient regardless of amount")

	now := time.Now()
	a.ConfirmDate = &now
	assert.True(t, a.IsSufficient(alwaysEnough))
}

func TestAllowanceIsSufficientDefersAmountCheck(t *testing.T) {
	now := time.Now()
	a := &Allowance{Amount: "1", ConfirmDate: &now}
	assert.False(t, a.IsSufficient(func(string) bool { return false }))
}
